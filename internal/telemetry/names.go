package telemetry

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

// resolveNames fills in a human-readable device name from the PCI database
// for GPUs whose driver-reported name is missing or a bare identifier.
func resolveNames(gpus []GPU) {
	for i := range gpus {
		if gpus[i].PCIID == nil {
			continue
		}
		if !shouldResolveName(gpus[i].Name) {
			continue
		}
		vendorID, deviceID := splitPCIIdentifier(*gpus[i].PCIID)
		if resolved := lookupGPUName(vendorID, deviceID); resolved != "" {
			gpus[i].Name = resolved
		}
	}
}

func lookupGPUName(vendorID, deviceID string) string {
	vendorID = normalizePCIID(vendorID)
	deviceID = normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return ""
	}

	db := loadPCIDatabase()
	if db == nil {
		return ""
	}

	product, ok := db.Products[vendorID+deviceID]
	if !ok || product == nil {
		return ""
	}
	return product.Name
}

func loadPCIDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil || pciDB == nil {
		return nil
	}
	return pciDB
}

func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	if value == "" {
		return ""
	}
	value = strings.ToLower(value)
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

func splitPCIIdentifier(pciID string) (vendorID string, deviceID string) {
	parts := strings.SplitN(pciID, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func shouldResolveName(current string) bool {
	lower := strings.ToLower(strings.TrimSpace(current))
	if lower == "" || lower == "unknown" {
		return true
	}
	if strings.HasPrefix(lower, "0x") {
		return true
	}
	if strings.HasPrefix(lower, "pci device") {
		return true
	}
	return false
}
