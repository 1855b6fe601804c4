/*
File Name:  MD4.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package hash

import "golang.org/x/crypto/md4"

// MD4 computes the RFC 1320 MD4 digest of data in one call.
func MD4(data []byte) (digest [Size]byte) {
	h := md4.New()
	h.Write(data)
	copy(digest[:], h.Sum(nil))
	return digest
}
