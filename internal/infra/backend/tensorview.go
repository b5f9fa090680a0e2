package backend

import "github.com/band-engine/band/internal/domain"

// tensorView is the reference backend's domain.TensorView: every tensor it
// owns is a flat float32 vector, so shape reduces to a single length.
type tensorView struct {
	index  int
	length int
}

var _ domain.TensorView = tensorView{}

func (v tensorView) Index() int                            { return v.index }
func (v tensorView) Name() string                          { return "" }
func (v tensorView) Type() domain.DataType                  { return domain.DataTypeFloat32 }
func (v tensorView) Quantization() domain.QuantizationType  { return domain.QuantizationNone }
func (v tensorView) Dims() []int                            { return []int{v.length} }

func (v tensorView) Equal(other domain.TensorView) bool {
	return other.Type() == domain.DataTypeFloat32 &&
		other.Quantization() == domain.QuantizationNone &&
		len(other.Dims()) == 1 && other.Dims()[0] == v.length
}
