package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity names one physically attached unit. It is comparable and used
// directly as a map key.
type Identity struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Bus       uint8  `json:"bus"`
	Address   uint8  `json:"address"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%04X:%04X@%d.%d", id.VendorID, id.ProductID, id.Bus, id.Address)
}

// ModelKey identifies the vendor/product pair shared by every unit of a model.
func (id Identity) ModelKey() string {
	return ModelKey(id.VendorID, id.ProductID)
}

// ModelKey formats a vendor/product pair as "VVVV:PPPP".
func ModelKey(vendor, product uint16) string {
	return fmt.Sprintf("%04X:%04X", vendor, product)
}

// Class is a USB class code.
type Class uint8

const (
	ClassUnspecified         Class = 0x00
	ClassAudio               Class = 0x01
	ClassCDC                 Class = 0x02
	ClassHID                 Class = 0x03
	ClassPhysical            Class = 0x05
	ClassImage               Class = 0x06
	ClassPrinter             Class = 0x07
	ClassMassStorage         Class = 0x08
	ClassHub                 Class = 0x09
	ClassCDCData             Class = 0x0A
	ClassSmartCard           Class = 0x0B
	ClassContentSecurity     Class = 0x0D
	ClassVideo               Class = 0x0E
	ClassPersonalHealthcare  Class = 0x0F
	ClassAudioVideo          Class = 0x10
	ClassBillboard           Class = 0x11
	ClassTypeCBridge         Class = 0x12
	ClassDiagnostic          Class = 0xDC
	ClassWireless            Class = 0xE0
	ClassMiscellaneous       Class = 0xEF
	ClassApplicationSpecific Class = 0xFE
	ClassVendorSpecific      Class = 0xFF
)

var classNames = map[Class]string{
	ClassUnspecified:         "Unspecified",
	ClassAudio:               "Audio",
	ClassCDC:                 "CDC",
	ClassHID:                 "HID",
	ClassPhysical:            "Physical",
	ClassImage:               "Image",
	ClassPrinter:             "Printer",
	ClassMassStorage:         "MassStorage",
	ClassHub:                 "Hub",
	ClassCDCData:             "CDCData",
	ClassSmartCard:           "SmartCard",
	ClassContentSecurity:     "ContentSecurity",
	ClassVideo:               "Video",
	ClassPersonalHealthcare:  "PersonalHealthcare",
	ClassAudioVideo:          "AudioVideo",
	ClassBillboard:           "Billboard",
	ClassTypeCBridge:         "TypeCBridge",
	ClassDiagnostic:          "Diagnostic",
	ClassWireless:            "Wireless",
	ClassMiscellaneous:       "Miscellaneous",
	ClassApplicationSpecific: "ApplicationSpecific",
	ClassVendorSpecific:      "VendorSpecific",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return c.Hex()
}

// Hex returns the class as "0xNN".
func (c Class) Hex() string {
	return fmt.Sprintf("0x%02X", uint8(c))
}

// ParseClass accepts "0x03", "03" or "3".
func ParseClass(s string) (Class, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid interface class %q: %w", s, err)
	}
	return Class(v), nil
}

// ParseID reads a vendor or product id written as hex, with or without a
// 0x prefix.
func ParseID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid hex id %q", s)
	}
	return uint16(v), nil
}

// Speed is the negotiated or supported bus speed. Values are ordered.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
	SpeedSuperPlus
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	case SpeedSuper:
		return "super"
	case SpeedSuperPlus:
		return "super+"
	default:
		return "unknown"
	}
}

// TransferType is an endpoint transfer type.
type TransferType uint8

const (
	TransferControl TransferType = iota
	TransferIsochronous
	TransferBulk
	TransferInterrupt
)

// Valid reports whether t is one of the four legal transfer types.
func (t TransferType) Valid() bool {
	return t <= TransferInterrupt
}

type Endpoint struct {
	Address       uint8        `json:"address"`
	TransferType  TransferType `json:"transferType"`
	MaxPacketSize uint16       `json:"maxPacketSize"`
}

type AltSetting struct {
	Number    uint8      `json:"number"`
	Class     Class      `json:"class"`
	SubClass  uint8      `json:"subClass"`
	Protocol  uint8      `json:"protocol"`
	Endpoints []Endpoint `json:"endpoints,omitempty"`
}

type Interface struct {
	Number      uint8        `json:"number"`
	AltSettings []AltSetting `json:"altSettings"`
}

// Descriptor is a read-only, point-in-time view of an attached device.
// Enumeration and descriptor parsing happen outside this package.
type Descriptor struct {
	Identity    Identity    `json:"identity"`
	Class       Class       `json:"class"`
	Description string      `json:"description,omitempty"`
	Speed       Speed       `json:"speed"`     // highest speed the device supports
	LinkSpeed   Speed       `json:"linkSpeed"` // speed of the port it is attached to
	Interfaces  []Interface `json:"interfaces,omitempty"`
	Certificate []byte      `json:"certificate,omitempty"` // optional DER certificate
}

// InterfaceClasses returns the class of every alternate setting in order.
func (d Descriptor) InterfaceClasses() []Class {
	var classes []Class
	for _, iface := range d.Interfaces {
		for _, alt := range iface.AltSettings {
			classes = append(classes, alt.Class)
		}
	}
	return classes
}
