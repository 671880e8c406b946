package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hirochachacha/go-smb2"
)

func TestSMBError_MapsNTStatus(t *testing.T) {
	cases := []struct {
		status uint32
		want   int
	}{
		{statusLogonFailure, CodeLoginDenied},
		{statusAccessDenied, CodeRemoteAccessDenied},
		{statusObjectNameNotFound, CodeRemoteFileNotFound},
		{statusBadNetworkName, CodeRemoteFileNotFound},
	}
	for _, c := range cases {
		// wrapped errors are unwrapped
		err := smbError(fmt.Errorf("session setup: %w", &smb2.ResponseError{Code: c.status}))
		var f *Failure
		if !errors.As(err, &f) || f.Code != c.want {
			t.Fatalf("status %#x: want code %d, got %v", c.status, c.want, err)
		}
	}

	other := &smb2.ResponseError{Code: 0xC0000001}
	if err := smbError(other); err != other {
		t.Fatalf("unmapped status must pass through, got %v", err)
	}
	plain := errors.New("boom")
	if err := smbError(plain); err != plain {
		t.Fatalf("non-SMB error must pass through, got %v", err)
	}
}
