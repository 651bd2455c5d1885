package port

import "github.com/mapstash/mapstash/internal/domain"

// Catalog is the region directory: stable identity, remote artifact
// sizes and the currently active data version. Implementations must be
// safe for concurrent use.
type Catalog interface {
	// Lookup resolves a region name to its key, or domain.InvalidRegion.
	Lookup(name string) domain.RegionID
	// Name returns the catalog name for a key, or "" if unknown.
	Name(region domain.RegionID) string
	// RemoteDescriptor returns the remote byte size of one part at the
	// active data version. Zero means the part does not exist for this
	// region and must never be fetched.
	RemoteDescriptor(region domain.RegionID, part domain.Parts) int64
	// ActiveDataVersion returns the currently published data version.
	ActiveDataVersion() int64
	// Regions lists every known region in catalog order.
	Regions() []domain.RegionID
}
