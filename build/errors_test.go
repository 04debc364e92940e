package build

import (
	"errors"
	"testing"
)

// TestComposeErrors tests that ComposeErrors only returns non-nil when
// there are non-nil elements in errs, and that the returned error's string
// is the concatenation of every non-nil error, in order.
func TestComposeErrors(t *testing.T) {
	tests := []struct {
		errs       []error
		wantNil    bool
		errStrWant string
	}{
		{wantNil: true},
		{errs: []error{}, wantNil: true},
		{errs: []error{nil}, wantNil: true},
		{errs: []error{nil, nil, nil}, wantNil: true},
		{
			errs:       []error{errors.New("foo")},
			errStrWant: "foo",
		},
		{
			errs:       []error{errors.New("foo"), errors.New("bar"), errors.New("baz")},
			errStrWant: "foo; bar; baz",
		},
		{
			errs:       []error{nil, errors.New("foo"), nil, errors.New("bar"), nil},
			errStrWant: "foo; bar",
		},
	}
	for _, tt := range tests {
		err := ComposeErrors(tt.errs...)
		if tt.wantNil && err != nil {
			t.Errorf("expected nil error, got %q", err)
		} else if err != nil && err.Error() != tt.errStrWant {
			t.Errorf("expected %q, got %q", tt.errStrWant, err)
		}
	}
}
