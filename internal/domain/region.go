package domain

// RegionID is the stable opaque key of one downloadable map region.
// Keys are assigned by the catalog on first sight and never reused.
// The zero value is the sentinel returned for unknown regions.
type RegionID uint32

// InvalidRegion is returned by lookups that fail to resolve a region.
const InvalidRegion RegionID = 0

// IsValid reports whether the key identifies a known region.
func (r RegionID) IsValid() bool {
	return r != InvalidRegion
}
