// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package drivemon maps drivesync errors onto the closed telemetry category
// set from spec §7, following the teacher's private/errs2 CodeMap idiom.
package drivemon

import (
	"errors"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/drivesync/pkg/driveerrs"
)

// Category is one of the closed telemetry categories from spec §7.
type Category string

// Closed category set.
const (
	CategoryRateLimited      Category = "rate_limited"
	CategoryIntegrityError   Category = "integrity_error"
	CategoryDecryptionError  Category = "decryption_error"
	CategoryClientError      Category = "4xx"
	CategoryServerError      Category = "server_error"
	CategoryNetworkError     Category = "network_error"
	CategoryUnknown          Category = "unknown"
	categoryDroppedSentinel  Category = ""
)

var mon = monkit.Package()

// codeMap mirrors the teacher's errs2.CodeMap: class -> category. Checked in
// order, first match wins.
var codeMap = []struct {
	class    *errs.Class
	category Category
}{
	{&driveerrs.RateLimited, CategoryRateLimited},
	{&driveerrs.Integrity, CategoryIntegrityError},
	{&driveerrs.Decryption, CategoryDecryptionError},
	{&driveerrs.AlreadyExists, CategoryClientError},
	{&driveerrs.Server, CategoryServerError},
	{&driveerrs.Connection, CategoryNetworkError},
}

// dropped classes are never reported to telemetry, per spec §7.
var dropped = []*errs.Class{&driveerrs.Validation, &driveerrs.Aborted}

// Categorize returns the telemetry category for err, and ok=false when the
// error belongs to a dropped class (ValidationError, AbortError) and must
// not be recorded at all.
func Categorize(err error) (category Category, ok bool) {
	if err == nil {
		return categoryDroppedSentinel, false
	}
	for _, d := range dropped {
		if d.Has(err) {
			return categoryDroppedSentinel, false
		}
	}
	for _, entry := range codeMap {
		if entry.class.Has(err) {
			return entry.category, true
		}
	}
	var naee *driveerrs.NodeAlreadyExistsValidationError
	if errors.As(err, &naee) {
		return CategoryClientError, true
	}
	return CategoryUnknown, true
}

// Record increments a monkit counter for err's category, matching the
// teacher's habit of instrumenting every surfaced error path. No-op for
// dropped classes.
func Record(event string, err error) {
	category, ok := Categorize(err)
	if !ok {
		return
	}
	mon.Counter("drivesync_error_" + event + "_" + string(category)).Inc(1)
}
