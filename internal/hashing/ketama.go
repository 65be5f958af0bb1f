package hashing

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
)

const pointsPerWeight = 160

// KetamaBackend is one ring member: a stable numeric id (used as the
// tie-break key on point collision) and its configured weight.
type KetamaBackend struct {
	ID     int
	Addr   string
	Weight uint32
}

type ketamaPoint struct {
	point   uint32
	backend int
}

// Ketama is a consistent-hash ring: 160*weight points per backend at
// md5(address‖index) positions on a 32-bit ring.
type Ketama struct {
	points []ketamaPoint
}

// BuildKetama constructs a ring from the given live backends. Ejected
// backends must be excluded from the slice by the caller.
func BuildKetama(backends []KetamaBackend) *Ketama {
	k := &Ketama{}
	for _, b := range backends {
		n := int(b.Weight) * pointsPerWeight
		for i := 0; i < n; i++ {
			sum := md5.Sum([]byte(fmt.Sprintf("%s-%d", b.Addr, i)))
			point := binary.BigEndian.Uint32(sum[:4])
			k.points = append(k.points, ketamaPoint{point: point, backend: b.ID})
		}
	}
	sort.Slice(k.points, func(i, j int) bool {
		if k.points[i].point != k.points[j].point {
			return k.points[i].point < k.points[j].point
		}
		// Tie-break: the backend with the smaller address id wins
		//.
		return k.points[i].backend < k.points[j].backend
	})
	return k
}

// Lookup returns the backend id owning the first ring point >= md5(key),
// wrapping to the first point when key's hash exceeds every point. ok is
// false for an empty ring.
func (k *Ketama) Lookup(key []byte) (backendID int, ok bool) {
	if len(k.points) == 0 {
		return 0, false
	}
	sum := md5.Sum(key)
	target := binary.BigEndian.Uint32(sum[:4])
	i := sort.Search(len(k.points), func(i int) bool { return k.points[i].point >= target })
	if i == len(k.points) {
		i = 0
	}
	return k.points[i].backend, true
}

// Empty reports whether the ring has no points (i.e. no live backends).
func (k *Ketama) Empty() bool { return len(k.points) == 0 }
