// Package gpio drives a single digital output line, such as the reset pin of
// an I2C display.
package gpio

// Output is an output line opened for exclusive use.
type Output interface {
	SetValue(v int) error
	Close() error
}
