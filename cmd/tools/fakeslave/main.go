// fakeslave is a Modbus TCP test double for exercising gatewayd without
// real hardware: a holding-register bank seeded with the worked example
// from the register decode matrix (a float32, big-endian word order, at
// address 0) plus a few scratch registers an operator can poke by hand.
package main

// cSpell:ignore mbserver
import (
	"log"
	"math"
	"os"

	"github.com/tbrandon/mbserver"
)

func main() {
	addr := os.Getenv("FAKESLAVE_LISTEN_ADDR")
	if addr == "" {
		addr = ":1502"
	}

	srv := mbserver.NewServer()
	seedPi(srv)

	if err := srv.ListenTCP(addr); err != nil {
		log.Fatalf("ListenTCP: %v", err)
	}
	defer srv.Close()
	log.Printf("fake Modbus TCP slave listening on %s (HR40001-2 = pi, float32 big-endian)", addr)

	select {}
}

// seedPi writes 3.1415927 as a big-endian-word float32 into holding
// registers 0 and 1: the exact bit pattern (0x4049, 0x0FDB) the register
// decode matrix's worked example expects back out.
func seedPi(srv *mbserver.Server) {
	bits := math.Float32bits(3.1415927)
	srv.HoldingRegisters[0] = uint16(bits >> 16)
	srv.HoldingRegisters[1] = uint16(bits)
}
