package gpu

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

// pciNames resolves marketing names from the PCI ID database, loaded lazily on
// first use.
type pciNames struct {
	once sync.Once
	load func() (*pcidb.PCIDB, error)
	db   *pcidb.PCIDB
}

var defaultPCINames = &pciNames{load: func() (*pcidb.PCIDB, error) { return pcidb.New() }}

func (n *pciNames) database() *pcidb.PCIDB {
	n.once.Do(func() {
		if n.load == nil {
			return
		}
		db, err := n.load()
		if err == nil {
			n.db = db
		}
	})
	return n.db
}

// lookup prefers the subsystem (board partner) name over the chip name.
func (n *pciNames) lookup(vendorID, deviceID, subVendorID, subDeviceID string) string {
	vendorID, deviceID = normalizePCIID(vendorID), normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return ""
	}
	db := n.database()
	if db == nil {
		return ""
	}
	product, ok := db.Products[vendorID+deviceID]
	if !ok || product == nil {
		return ""
	}

	subVendorID, subDeviceID = normalizePCIID(subVendorID), normalizePCIID(subDeviceID)
	if subVendorID != "" && subDeviceID != "" {
		for _, sub := range product.Subsystems {
			if sub != nil && sub.Name != "" && strings.EqualFold(sub.VendorID, subVendorID) && strings.EqualFold(sub.ID, subDeviceID) {
				return sub.Name
			}
		}
	}
	return product.Name
}

func normalizePCIID(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "0x")
	if value == "" {
		return ""
	}
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

// genericName reports whether a driver-provided name is a placeholder worth
// replacing with the database name.
func genericName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case lower == "", lower == "amdgpu", lower == "radeon", lower == "unknown":
		return true
	case strings.HasPrefix(lower, "pci device"), strings.HasPrefix(lower, "0x"):
		return true
	}
	return false
}
