// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libfieldcount.so (Android) / fieldcount.framework (iOS)
//
// Functions returning *C.char allocate; the caller must release the result with FreeString.
// Functions returning int32 use 0 for success and 1 for failure, with details in GetLastError.
package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

func status(err error) int32 {
	core.setLastError(err)
	if err != nil {
		return 1
	}
	return 0
}

// result converts a JSON result or error into a C string.
// Errors are returned as {"error","message"} so the caller can branch on the code.
func result(s string, err error) *C.char {
	core.setLastError(err)
	if err != nil {
		return C.CString(errorJSON(err))
	}
	return C.CString(s)
}

// Init opens the data directory and starts the offline layer.
// configPath may be empty; a non-empty dataDir overrides the configured one.
//
//export Init
func Init(configPath, dataDir *C.char) int32 {
	return status(core.init(C.GoString(configPath), C.GoString(dataDir)))
}

// Dispose stops background work and closes the database.
//
//export Dispose
func Dispose() int32 {
	return status(core.dispose())
}

// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
//
//export GetLastError
func GetLastError() *C.char {
	return C.CString(core.lastError())
}

// =====================================================
// Offline Operations
// =====================================================

// ExecuteAction runs request (JSON) against endpoint, queueing writes while offline.
// Returns JSON that must be freed by the caller.
//
//export ExecuteAction
func ExecuteAction(endpoint, request *C.char) *C.char {
	return result(core.executeAction(C.GoString(endpoint), C.GoString(request)))
}

// SetOnline reports a platform connectivity change. Going online starts a drain.
//
//export SetOnline
func SetOnline(online int32) int32 {
	return status(core.setOnline(online != 0))
}

// SyncNow drains the action log and returns the report as JSON.
//
//export SyncNow
func SyncNow() *C.char {
	return result(core.syncNow())
}

// PendingCount returns the number of queued actions, or -1 on error.
//
//export PendingCount
func PendingCount() int32 {
	n, err := core.pendingCount()
	core.setLastError(err)
	if err != nil {
		return -1
	}
	return int32(n)
}

// =====================================================
// Scan Operations
// =====================================================

// ManualScan submits a typed barcode.
//
//export ManualScan
func ManualScan(code *C.char) int32 {
	return status(core.manualScan(C.GoString(code)))
}

// PollScan returns the next scan event as JSON, or an empty string when none is waiting.
//
//export PollScan
func PollScan() *C.char {
	return result(core.pollScan())
}

// =====================================================
// Memory Management Helpers
// =====================================================

// FreeString frees a string allocated by Go.
//
//export FreeString
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
