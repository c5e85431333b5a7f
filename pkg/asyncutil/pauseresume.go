// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package asyncutil

import (
	"context"
	"sync"
)

// PauseResumeController lets a caller suspend a long-running loop (e.g. an
// upload's block pipeline) between suspension points and resume it later,
// per spec §9's "pause/resume controller". Built on Fence, replacing it on
// every Pause so Resume only unblocks the most recent pause.
type PauseResumeController struct {
	mu     sync.Mutex
	paused bool
	fence  *Fence
}

// NewPauseResumeController returns a controller that starts unpaused.
func NewPauseResumeController() *PauseResumeController {
	fence := &Fence{}
	fence.Release()
	return &PauseResumeController{fence: fence}
}

// Pause suspends future Wait calls until the next Resume.
func (p *PauseResumeController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.fence = &Fence{}
}

// Resume releases any Wait calls blocked since the last Pause.
func (p *PauseResumeController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	p.fence.Release()
}

// Wait blocks while paused, or returns false if ctx is cancelled first.
func (p *PauseResumeController) Wait(ctx context.Context) bool {
	p.mu.Lock()
	fence := p.fence
	p.mu.Unlock()
	return fence.Wait(ctx)
}

// Paused reports the current pause state.
func (p *PauseResumeController) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
