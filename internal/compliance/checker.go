package compliance

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Checker validates a single data file.
type Checker interface {
	Check(path string) error
}

// ErrNotNetCDF is returned for files without a NetCDF signature.
var ErrNotNetCDF = errors.New("not a NetCDF file")

// netCDFSignatures are the classic, 64-bit offset, CDF-5 and NetCDF-4/HDF5
// file signatures.
var netCDFSignatures = [][]byte{
	[]byte("CDF\x01"),
	[]byte("CDF\x02"),
	[]byte("CDF\x05"),
	[]byte("\x89HDF\r\n\x1a\n"),
}

// NetCDFChecker accepts files that start with a NetCDF signature.
type NetCDFChecker struct{}

func (NetCDFChecker) Check(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading header: %w", err)
	}
	head = head[:n]

	for _, sig := range netCDFSignatures {
		if bytes.HasPrefix(head, sig) {
			return nil
		}
	}
	return ErrNotNetCDF
}
