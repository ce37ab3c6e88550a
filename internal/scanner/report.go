package scanner

// AnnotationError records a file that failed to parse or a discovered Test
// the Store did not accept (§4.1 "skip file; do not fail the whole scan").
// Unrecognized annotation values are not recorded here.
type AnnotationError struct {
	Path    string
	Message string
}

// ScanReport is the output of a single Scan call (§4.1 "scan(root_path) →
// ScanReport").
type ScanReport struct {
	Discovered  int
	Created     int
	Updated     int
	Orphaned    int
	Reactivated int

	AnnotationErrors []AnnotationError
}

// OK reports whether the scan completed with no annotation errors (§7: the
// CLI exit code reflects the worst counter).
func (r ScanReport) OK() bool {
	return len(r.AnnotationErrors) == 0
}
