// Command rtltcpprobe is a minimal rtl_tcp client used for manual
// smoke-testing a running rtltcpd instance: it connects, prints the
// decoded greeting, optionally issues one command, and optionally dumps
// N seconds of sample bytes to a file (or discards them).
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rjboer/rtltcpd/internal/rtltcp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1234", "server address")
	cmdCode := flag.Uint("cmd", 0, "command code to send (0 = none)")
	cmdParam := flag.Uint("param", 0, "command parameter")
	dumpSeconds := flag.Float64("dump", 0, "seconds of sample bytes to dump")
	dumpPath := flag.String("out", os.DevNull, "file to write dumped samples to")
	flag.Parse()

	if err := probe(*addr, uint8(*cmdCode), uint32(*cmdParam), *dumpSeconds, *dumpPath, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "rtltcpprobe:", err)
		os.Exit(1)
	}
}

func probe(addr string, cmdCode uint8, cmdParam uint32, dumpSeconds float64, dumpPath string, out io.Writer) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	var greetingBytes [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, greetingBytes[:]); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	greeting, err := rtltcp.DecodeGreeting(greetingBytes[:])
	if err != nil {
		return fmt.Errorf("decode greeting: %w", err)
	}
	fmt.Fprintf(out, "tuner=%s gain_count=%d\n", greeting.Tuner, greeting.GainCount)

	if cmdCode != 0 {
		frame := rtltcp.Frame{Code: cmdCode, Param: cmdParam}.Encode()
		if _, err := conn.Write(frame[:]); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
		fmt.Fprintf(out, "sent command 0x%02X param=%d\n", cmdCode, cmdParam)
	}

	if dumpSeconds <= 0 {
		return nil
	}
	f, err := os.Create(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump file: %w", err)
	}
	defer f.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Duration(dumpSeconds * float64(time.Second))))
	n, err := io.Copy(f, conn)
	fmt.Fprintf(out, "dumped %d bytes\n", n)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return fmt.Errorf("dump: %w", err)
	}
	return nil
}
