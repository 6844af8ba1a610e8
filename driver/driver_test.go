package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/winusb/types"
)

func ptr[T any](v T) *T { return &v }

type fakeBackend struct {
	present    []types.Device
	enumErr    error
	installErr map[uint16]error
	installed  []types.Device
}

func (f *fakeBackend) Enumerate(filter Filter) ([]types.Device, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	var out []types.Device
	for _, d := range f.present {
		if filter(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeBackend) Install(d types.Device, _ types.InstallConfig) error {
	f.installed = append(f.installed, d)
	return f.installErr[d.ProductID]
}

func TestFilters(t *testing.T) {
	bare := types.Device{VendorID: 1, ProductID: 1}
	winusb := types.Device{VendorID: 1, ProductID: 2, Driver: ptr("WinUSB")}
	other := types.Device{VendorID: 2, ProductID: 3, Driver: ptr("usbser")}

	tests := []struct {
		name   string
		filter Filter
		want   []bool
	}{
		{"all", All, []bool{true, true, true}},
		{"missing driver", MissingDriver, []bool{true, false, false}},
		{"needs winusb", NeedsWinUSB, []bool{true, false, true}},
		{"match any", MatchAny([]types.Device{other}), []bool{false, false, true}},
		{"match ids", MatchIDs([][2]uint16{{1, 2}}), []bool{false, true, false}},
		{"match ids empty", MatchIDs(nil), []bool{true, true, true}},
		{"and", And(NeedsWinUSB, MatchIDs([][2]uint16{{2, 3}})), []bool{false, false, true}},
	}

	devices := []types.Device{bare, winusb, other}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, d := range devices {
				if got := tt.filter(d); got != tt.want[i] {
					t.Errorf("filter(%s) = %v, want %v", d, got, tt.want[i])
				}
			}
		})
	}
}

func TestInstallAll(t *testing.T) {
	a := types.Device{VendorID: 0x1209, ProductID: 1, Description: "A"}
	b := types.Device{VendorID: 0x1209, ProductID: 2, Description: "B"}
	gone := types.Device{VendorID: 0x1209, ProductID: 3}
	unrelated := types.Device{VendorID: 0xffff, ProductID: 9}

	backend := &fakeBackend{
		present:    []types.Device{a, unrelated, b},
		installErr: map[uint16]error{2: errors.New("x")},
	}

	var results []types.DeviceResult
	err := InstallAll(context.Background(), backend, types.InstallConfig{}, []types.Device{a, b, gone}, func(r types.DeviceResult) {
		results = append(results, r)
	})
	if err != nil {
		t.Fatalf("InstallAll failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Device.Equal(a) || !results[0].OK() {
		t.Errorf("results[0] = %+v, want ok for A", results[0])
	}
	if !results[1].Device.Equal(b) || results[1].Err != "x" {
		t.Errorf("results[1] = %+v, want error x for B", results[1])
	}
	if len(backend.installed) != 2 {
		t.Errorf("installed %d devices, want 2", len(backend.installed))
	}
}

func TestInstallAll_EnumerateError(t *testing.T) {
	backend := &fakeBackend{enumErr: errors.New("setupapi failed")}
	err := InstallAll(context.Background(), backend, types.InstallConfig{}, nil, func(types.DeviceResult) {
		t.Error("emit should not be called")
	})
	if !errors.Is(err, backend.enumErr) {
		t.Errorf("InstallAll error = %v, want %v", err, backend.enumErr)
	}
}

func TestInstallAll_Cancelled(t *testing.T) {
	a := types.Device{VendorID: 1, ProductID: 1}
	backend := &fakeBackend{present: []types.Device{a}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := InstallAll(ctx, backend, types.InstallConfig{}, []types.Device{a}, func(types.DeviceResult) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("InstallAll error = %v, want context.Canceled", err)
	}
	if len(backend.installed) != 0 {
		t.Errorf("installed %d devices after cancel, want 0", len(backend.installed))
	}
}
