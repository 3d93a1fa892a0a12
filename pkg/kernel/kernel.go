// Package kernel generates 3D dose deposition kernels for photon, electron,
// and proton beams.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"radplan/pkg/beam"
)

// DefaultSize is the kernel edge length in voxels.
const DefaultSize = 11

// ErrZeroSum indicates a kernel whose values sum to zero and therefore
// cannot be normalized.
var ErrZeroSum = errors.New("kernel: values sum to zero")

// Kernel is a cubic dose deposition kernel normalized to unit sum.
type Kernel struct {
	Data   []float64
	Size   int
	Center int
}

// Generate builds a normalized kernel of the default size for the given
// beam type and energy.
func Generate(t beam.Type, energy float64) (*Kernel, error) {
	return GenerateSized(t, energy, DefaultSize)
}

// GenerateSized builds a normalized kernel with the given edge length.
// Photon and electron kernels are isotropic Gaussians whose spread grows
// with energy; proton kernels carry a Bragg peak along the depth axis.
func GenerateSized(t beam.Type, energy float64, size int) (*Kernel, error) {
	if size < 1 {
		return nil, fmt.Errorf("kernel: invalid size %d", size)
	}
	k := &Kernel{
		Data:   make([]float64, size*size*size),
		Size:   size,
		Center: size / 2,
	}

	var err error
	switch t {
	case beam.Photon:
		err = k.fillGaussian(0.5 + 0.1*energy)
	case beam.Electron:
		err = k.fillGaussian(0.3 + 0.05*energy)
	case beam.Proton:
		err = k.fillBragg(energy)
	default:
		return nil, fmt.Errorf("kernel: unsupported beam type %v", t)
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// At returns the kernel value at the given voxel.
func (k *Kernel) At(x, y, z int) float64 {
	return k.Data[z*k.Size*k.Size+y*k.Size+x]
}

// Sum returns the sum of all kernel values; after generation it is 1.
func (k *Kernel) Sum() float64 {
	s := 0.0
	for _, v := range k.Data {
		s += v
	}
	return s
}

func (k *Kernel) fillGaussian(sigma float64) error {
	if sigma <= 0 {
		return ErrZeroSum
	}
	c := float64(k.Center)
	i := 0
	for z := 0; z < k.Size; z++ {
		for y := 0; y < k.Size; y++ {
			for x := 0; x < k.Size; x++ {
				dx := float64(x) - c
				dy := float64(y) - c
				dz := float64(z) - c
				r2 := dx*dx + dy*dy + dz*dz
				k.Data[i] = math.Exp(-r2 / (2 * sigma * sigma))
				i++
			}
		}
	}
	return k.normalize()
}

// fillBragg builds a proton kernel: a narrow lateral Gaussian with a sharp
// dose peak near the end of range and zero beyond it.
func (k *Kernel) fillBragg(energy float64) error {
	rng := 0.3 * energy
	sigmaR := 0.03 * rng
	if sigmaR <= 0 {
		return ErrZeroSum
	}

	c := float64(k.Center)
	i := 0
	for z := 0; z < k.Size; z++ {
		depth := float64(z) - c
		for y := 0; y < k.Size; y++ {
			for x := 0; x < k.Size; x++ {
				if depth > rng {
					k.Data[i] = 0
					i++
					continue
				}
				dx := float64(x) - c
				dy := float64(y) - c
				lat2 := dx*dx + dy*dy

				peak := 1.0 + 5.0*math.Exp(-20.0*(depth-rng)*(depth-rng))
				k.Data[i] = peak * math.Exp(-lat2/(2*sigmaR*sigmaR))
				i++
			}
		}
	}
	return k.normalize()
}

func (k *Kernel) normalize() error {
	sum := k.Sum()
	if sum <= 0 {
		return ErrZeroSum
	}
	for i := range k.Data {
		k.Data[i] /= sum
	}
	return nil
}
