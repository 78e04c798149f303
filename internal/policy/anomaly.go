package policy

import "github.com/kvthweatt/USB-Monitor/internal/device"

const (
	MaxInterfaces  = 32
	MaxAltSettings = 16
	MaxPacketSize  = 16384
)

const (
	AnomalyInterfaceCount  = "Suspicious number of interfaces"
	AnomalyAltSettingCount = "Suspicious number of alternate settings"
	AnomalyUnknownClass    = "Unknown interface class detected"
	AnomalyTransferType    = "Invalid endpoint transfer type"
	AnomalyPacketSize      = "Suspicious max packet size"
)

// recognizedClasses are interface classes accepted without scrutiny.
// Anything else below VendorSpecific is flagged.
var recognizedClasses = map[device.Class]bool{
	device.ClassUnspecified: true,
	device.ClassAudio:       true,
	device.ClassCDC:         true,
	device.ClassHID:         true,
	device.ClassPrinter:     true,
	device.ClassMassStorage: true,
	device.ClassHub:         true,
	device.ClassCDCData:     true,
	device.ClassVideo:       true,
}

// ScanProtocol looks for structurally suspicious descriptor shapes. It
// returns the first anomaly found, or "" when the descriptor looks sane.
func ScanProtocol(d device.Descriptor) string {
	if len(d.Interfaces) > MaxInterfaces {
		return AnomalyInterfaceCount
	}

	for _, iface := range d.Interfaces {
		if len(iface.AltSettings) > MaxAltSettings {
			return AnomalyAltSettingCount
		}
		for _, alt := range iface.AltSettings {
			if !recognizedClasses[alt.Class] && alt.Class < device.ClassVendorSpecific {
				return AnomalyUnknownClass
			}
			for _, ep := range alt.Endpoints {
				if !ep.TransferType.Valid() {
					return AnomalyTransferType
				}
				if ep.MaxPacketSize > MaxPacketSize {
					return AnomalyPacketSize
				}
			}
		}
	}
	return ""
}
