package pnputil

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/winusb/types"
)

// interfaceNamespace seeds the device interface GUIDs written into
// generated descriptors, so the same hardware id always gets the same
// GUID across installs.
var interfaceNamespace = uuid.MustParse("6f1b3c2e-8a51-4d0b-9a3e-2c7d5e1f0b94")

// driverVersion is the DriverVer version written into generated
// descriptors.
const driverVersion = "6.1.7600.16385"

var infTemplate = template.Must(template.New("inf").Funcs(template.FuncMap{
	"quote": infQuote,
}).Parse(`; {{.InfName}}
; WinUSB descriptor for {{.HardwareID}}

[Version]
Signature   = "$Windows NT$"
Class       = USBDevice
ClassGUID   = {88BAE032-5A81-49f0-BC3D-A4FF138216D6}
Provider    = %ManufacturerName%
DriverVer   = {{.Date}},{{.Version}}

[Manufacturer]
%ManufacturerName% = Standard,NTamd64,NTx86,NTarm64

[Standard.NTamd64]
%DeviceName% = USB_Install, {{.HardwareID}}

[Standard.NTx86]
%DeviceName% = USB_Install, {{.HardwareID}}

[Standard.NTarm64]
%DeviceName% = USB_Install, {{.HardwareID}}

[USB_Install]
Include = winusb.inf
Needs   = WINUSB.NT

[USB_Install.Services]
Include = winusb.inf
Needs   = WINUSB.NT.Services

[USB_Install.HW]
AddReg = Dev_AddReg

[Dev_AddReg]
HKR,,DeviceInterfaceGUIDs,0x10000,"{{"{"}}{{.InterfaceGUID}}{{"}"}}"

[Strings]
ManufacturerName = {{quote .Vendor}}
DeviceName       = {{quote .DeviceName}}
`))

type infData struct {
	InfName       string
	HardwareID    string
	Vendor        string
	DeviceName    string
	InterfaceGUID string
	Date          string
	Version       string
}

// renderINF generates the WinUSB descriptor binding device.
func renderINF(device types.Device, config types.InstallConfig, now time.Time) ([]byte, error) {
	hwid := matchHardwareID(device)
	name := device.Description
	if name == "" {
		name = fmt.Sprintf("USB Device (%s)", device.ID())
	}

	data := infData{
		InfName:       config.InfName,
		HardwareID:    hwid,
		Vendor:        config.Vendor,
		DeviceName:    name,
		InterfaceGUID: strings.ToUpper(interfaceGUID(hwid).String()),
		Date:          now.Format("01/02/2006"),
		Version:       driverVersion,
	}

	var buf bytes.Buffer
	if err := infTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", config.InfName, err)
	}
	// Descriptors use CRLF line endings.
	return bytes.ReplaceAll(buf.Bytes(), []byte("\n"), []byte("\r\n")), nil
}

// interfaceGUID derives a stable device interface GUID from a hardware id.
func interfaceGUID(hardwareID string) uuid.UUID {
	return uuid.NewSHA1(interfaceNamespace, []byte(strings.ToUpper(hardwareID)))
}

// infQuote renders s as a quoted descriptor string. Embedded quotes are
// doubled and percent signs escaped.
func infQuote(s string) string {
	s = strings.ReplaceAll(s, `"`, `""`)
	s = strings.ReplaceAll(s, "%", "%%")
	return `"` + s + `"`
}
