package peerstore

// GetCertifiedAddrBook returns ps's CertifiedAddrBook facet, if the
// concrete peerstore implementation exposes one, mirroring the
// teacher's peerstore.GetCertifiedAddrBook used by identify.
func GetCertifiedAddrBook(ps Peerstore) (CertifiedAddrBook, bool) {
	cab, ok := ps.(CertifiedAddrBook)
	return cab, ok
}
