package hw

import (
	"fmt"

	"periph.io/x/conn/v3/spi"
)

// SPISerial presents a periph SPI connection through the Serial register
// view. The host transfer is synchronous, so the transmit buffer is always
// ready and the shift register is done as soon as Transmit returns.
type SPISerial struct {
	conn    spi.Conn
	rx      [1]byte
	pending bool
}

// NewSPISerial wraps conn.
func NewSPISerial(conn spi.Conn) *SPISerial {
	return &SPISerial{conn: conn}
}

func (s *SPISerial) TxReady() bool { return true }

// Transmit clocks b out. A failed bus transfer cannot be retried from inside
// a half-finished protocol step, so it is fatal.
func (s *SPISerial) Transmit(b byte) {
	if err := s.conn.Tx([]byte{b}, s.rx[:]); err != nil {
		panic(fmt.Errorf("hw: serial transmit on %s: %w", s.conn, err))
	}
	s.pending = true
}

func (s *SPISerial) TxDone() bool { return true }

func (s *SPISerial) Receive() byte {
	s.pending = false
	return s.rx[0]
}

// Pending reports whether a received byte has not been drained yet.
func (s *SPISerial) Pending() bool { return s.pending }
