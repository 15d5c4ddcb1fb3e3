package offload

import "fmt"

const (
	DefaultSize      = 32
	DefaultMaxSize   = 8192
	DefaultBlockSize = 16
	DefaultKernel    = "matrixMult"
)

// Config fixes the problem geometry for a pipeline. It is validated once by
// New; Run re-checks the operands it is handed against it.
type Config struct {
	// Size is the side length N of the square operand and result matrices.
	Size int `yaml:"size" json:"size"`
	// MaxSize bounds Size.
	MaxSize int `yaml:"max_size" json:"max_size"`
	// BlockSize is the work-group side length; it must divide Size.
	BlockSize int `yaml:"block_size" json:"block_size"`
	// Kernel is the logical kernel name used to look up the program binary.
	Kernel string `yaml:"kernel" json:"kernel"`
	// Aligned records that host matrices come from page-aligned memory so the
	// runtime can alias them. It affects performance only.
	Aligned bool `yaml:"aligned" json:"aligned"`
}

// DefaultConfig returns the stock geometry: 32 x 32 matrices in 16 x 16
// work-groups, aligned host memory, kernel matrixMult.
func DefaultConfig() Config {
	return Config{
		Size:      DefaultSize,
		MaxSize:   DefaultMaxSize,
		BlockSize: DefaultBlockSize,
		Kernel:    DefaultKernel,
		Aligned:   true,
	}
}

// Validate reports the first geometry problem as a *ConfigError whose
// message is suitable for the console.
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return configErr(fmt.Sprintf("Block size must be positive, got %d.", c.BlockSize))
	}
	if c.Size <= 0 {
		return configErr(fmt.Sprintf("Matrix size must be positive, got %d.", c.Size))
	}
	if c.MaxSize > 0 && c.Size > c.MaxSize {
		return configErr(fmt.Sprintf("Size is bigger than internal buffer size, please use a size smaller than %d!", c.MaxSize))
	}
	if c.Size%c.BlockSize != 0 {
		return configErr(fmt.Sprintf("Matrix sizes must be a multiple of %d.", c.BlockSize))
	}
	if c.Kernel == "" {
		return configErr("Kernel name must not be empty.")
	}
	return nil
}
