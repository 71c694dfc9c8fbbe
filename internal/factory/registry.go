package factory

import (
	"fmt"
	"sort"

	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"go.uber.org/zap"
)

// Layer is what a BuildFunc produces: the module, the shape it outputs and
// the parameters it was built with (inferred values filled in).
type Layer[B tensor.Backend] struct {
	Module nn.Module[B]
	Out    tensor.Shape
	Params any

	// Marker is set for bookkeeping layers whose predicted shape is not the
	// shape the module actually produces (DoubleChannel).
	Marker bool
}

// Context carries per-entry information to a BuildFunc.
type Context struct {
	Index  int
	Type   string
	Logger *zap.Logger
}

// Warn logs a configuration warning attributed to the current entry.
func (c *Context) Warn(msg string, fields ...zap.Field) {
	c.Logger.Warn(msg, append([]zap.Field{zap.Int("index", c.Index), zap.String("layer", c.Type)}, fields...)...)
}

// decode decodes spec params into out and warns about unknown keys.
func (c *Context) decode(spec LayerSpec, out any) error {
	unknown, err := spec.Decode(out)
	if err != nil {
		return err
	}
	for _, key := range unknown {
		c.Warn("ignoring unknown parameter", zap.String("param", key))
	}
	return nil
}

// BuildFunc constructs one layer from its spec and the current shape.
// The input shape must not be modified.
type BuildFunc[B tensor.Backend] func(ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error)

// Option configures a Factory.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for configuration warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Factory turns layer specs into modules for one backend.
type Factory[B tensor.Backend] struct {
	backend  B
	builders map[string]BuildFunc[B]
	logger   *zap.Logger
}

// New creates a Factory with every built-in layer type registered.
func New[B tensor.Backend](backend B, opts ...Option) *Factory[B] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	f := &Factory[B]{
		backend:  backend,
		builders: make(map[string]BuildFunc[B]),
		logger:   o.logger,
	}
	registerBuiltins(f)
	return f
}

// Register adds or replaces the builder for a type tag.
func (f *Factory[B]) Register(typ string, fn BuildFunc[B]) {
	if typ == "" || fn == nil {
		panic(fmt.Sprintf("factory: invalid registration for %q", typ))
	}
	f.builders[typ] = fn
}

// Types returns the registered type tags in sorted order.
func (f *Factory[B]) Types() []string {
	types := make([]string, 0, len(f.builders))
	for typ := range f.builders {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Backend returns the backend modules are created on.
func (f *Factory[B]) Backend() B {
	return f.backend
}

func registerBuiltins[B tensor.Backend](f *Factory[B]) {
	// Normalization
	f.Register("LayerNorm", buildLayerNorm[B])
	f.Register("BatchNorm1d", buildBatchNorm1d[B])
	f.Register("BatchNorm1dT", buildBatchNorm1dT[B])
	f.Register("BatchNorm2d", buildBatchNorm2d[B])

	// Convolution and pooling
	f.Register("SincNet", buildSincNet[B])
	f.Register("Conv1d", buildConv1d[B])
	f.Register("Conv1dTCN", buildConv1dTCN[B])
	f.Register("Conv2d", buildConv2d[B])
	f.Register("Conv2dDS", buildConv2dDS[B])
	f.Register("Conv2dRes", buildConv2dRes[B])
	f.Register("Conv2dNext", buildConv2dNext[B])
	f.Register("ConvTranspose2d", buildConvTranspose2d[B])
	f.Register("MaxPool1d", buildMaxPool1d[B])
	f.Register("MaxPool2d", buildMaxPool2d[B])

	// Dense, activation and regularization
	f.Register("Linear", buildLinear[B])
	f.Register("Activation", buildActivation[B])
	f.Register("Dropout", buildDropout[B])

	// Shape manipulation
	f.Register("Flatten", buildFlatten[B])
	f.Register("Squeeze", buildSqueeze[B])
	f.Register("Permute", buildPermute[B])
	f.Register("Mean", buildMean[B])
	f.Register("Max", buildMax[B])
	f.Register("AbsLayer", buildAbs[B])
	f.Register("DoubleChannel", buildDoubleChannel[B])
	f.Register("Identity", buildIdentity[B])

	// Attention pooling
	f.Register("AutoPoolWeight", buildAutoPoolWeight[B])
	f.Register("AutoPoolWeightSplit", buildAutoPoolWeightSplit[B])
	f.Register("SoftmaxWeight", buildSoftmaxWeight[B])
}
