// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

// Package audit records executed commands with tamper-evident logging.
package audit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// verifyKeyFileACL checks that the key file DACL grants access only to
// the owner, SYSTEM, and Administrators. Mode bits are meaningless on
// NTFS, so this is the Windows equivalent of the 0600 check.
func verifyKeyFileACL(path string) error {
	sd, err := windows.GetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
	)
	if err != nil {
		return fmt.Errorf("failed to read key file security info: %w", err)
	}

	dacl, _, err := sd.DACL()
	if err != nil {
		return fmt.Errorf("failed to read key file DACL: %w", err)
	}
	if dacl == nil {
		// A NULL DACL grants everyone full access.
		return fmt.Errorf("%w: NULL DACL on %s", ErrKeyPermissions, path)
	}

	broadSids := []struct {
		name string
		kind windows.WELL_KNOWN_SID_TYPE
	}{
		{"Everyone", windows.WinWorldSid},
		{"Users", windows.WinBuiltinUsersSid},
		{"Authenticated Users", windows.WinAuthenticatedUserSid},
	}

	for _, broad := range broadSids {
		sid, err := windows.CreateWellKnownSid(broad.kind)
		if err != nil {
			continue
		}
		if daclGrantsAccess(dacl, sid) {
			return fmt.Errorf("%w: %s group can read %s", ErrKeyPermissions, broad.name, path)
		}
	}

	return nil
}

// daclGrantsAccess reports whether the DACL has a grant entry for sid.
func daclGrantsAccess(dacl *windows.ACL, sid *windows.SID) bool {
	if dacl == nil || sid == nil {
		return false
	}

	var entries *windows.EXPLICIT_ACCESS
	var count uint32

	advapi32 := windows.NewLazySystemDLL("advapi32.dll")
	getEntries := advapi32.NewProc("GetExplicitEntriesFromAclW")

	ret, _, _ := getEntries.Call(
		uintptr(unsafe.Pointer(dacl)),
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Pointer(&entries)),
	)
	if ret != 0 || count == 0 {
		return false
	}
	if entries != nil {
		defer windows.LocalFree(windows.Handle(unsafe.Pointer(entries)))
	}

	for _, entry := range unsafe.Slice(entries, count) {
		if entry.AccessMode != windows.GRANT_ACCESS && entry.AccessMode != windows.SET_ACCESS {
			continue
		}
		if entry.Trustee.TrusteeForm != windows.TRUSTEE_IS_SID {
			continue
		}
		entrySid := (*windows.SID)(unsafe.Pointer(entry.Trustee.TrusteeValue))
		if entrySid != nil && entrySid.Equals(sid) {
			return true
		}
	}

	return false
}
