package types //nolint:revive // types is a valid package name

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func u8Ptr(v uint8) *uint8 { return &v }

func TestDevice_Equal(t *testing.T) {
	base := Device{
		VendorID:       0x0483,
		ProductID:      0xdf11,
		InterfaceIndex: u8Ptr(1),
		Description:    "DFU in FS Mode",
		Driver:         strPtr("usbstor"),
		HardwareID:     strPtr(`USB\VID_0483&PID_DF11&MI_01`),
	}

	tests := []struct {
		name  string
		other Device
		want  bool
	}{
		{
			name: "identical copy with fresh pointers",
			other: Device{
				VendorID:       0x0483,
				ProductID:      0xdf11,
				InterfaceIndex: u8Ptr(1),
				Description:    "DFU in FS Mode",
				Driver:         strPtr("usbstor"),
				HardwareID:     strPtr(`USB\VID_0483&PID_DF11&MI_01`),
			},
			want: true,
		},
		{
			name:  "different product id",
			other: Device{VendorID: 0x0483, ProductID: 0xdf12, InterfaceIndex: u8Ptr(1), Description: "DFU in FS Mode", Driver: strPtr("usbstor"), HardwareID: strPtr(`USB\VID_0483&PID_DF11&MI_01`)},
			want:  false,
		},
		{
			name:  "missing interface index",
			other: Device{VendorID: 0x0483, ProductID: 0xdf11, Description: "DFU in FS Mode", Driver: strPtr("usbstor"), HardwareID: strPtr(`USB\VID_0483&PID_DF11&MI_01`)},
			want:  false,
		},
		{
			name:  "different driver",
			other: Device{VendorID: 0x0483, ProductID: 0xdf11, InterfaceIndex: u8Ptr(1), Description: "DFU in FS Mode", Driver: strPtr("WinUSB"), HardwareID: strPtr(`USB\VID_0483&PID_DF11&MI_01`)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Equal(tt.other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.other.Equal(base); got != tt.want {
				t.Errorf("Equal() is not symmetric: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDevice_HasWinUSB(t *testing.T) {
	tests := []struct {
		name   string
		driver *string
		want   bool
	}{
		{"no driver", nil, false},
		{"lowercase", strPtr("winusb"), true},
		{"mixed case", strPtr("WinUSB"), true},
		{"other driver", strPtr("usbser"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Device{Driver: tt.driver}
			if got := d.HasWinUSB(); got != tt.want {
				t.Errorf("HasWinUSB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDevice_String(t *testing.T) {
	d := Device{VendorID: 0x1209, ProductID: 0x0001, InterfaceIndex: u8Ptr(2), Description: "Test Board"}
	if got, want := d.String(), "1209:0001 (interface 2) Test Board"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		in      string
		vid     uint16
		pid     uint16
		wantErr bool
	}{
		{in: "0483:df11", vid: 0x0483, pid: 0xdf11},
		{in: "1209:1", vid: 0x1209, pid: 0x0001},
		{in: "0483", wantErr: true},
		{in: "zzzz:0001", wantErr: true},
		{in: "0483:12345", wantErr: true},
		{in: ":0001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			vid, pid, err := ParseDeviceID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeviceID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if vid != tt.vid || pid != tt.pid {
				t.Errorf("ParseDeviceID(%q) = %04x:%04x, want %04x:%04x", tt.in, vid, pid, tt.vid, tt.pid)
			}
		})
	}
}
