// Package serial provides line-oriented readers for detectors attached over a
// serial link.
//
// Two implementations share the same contract:
//
//   - SerialReader: Linux-only, raw termios via syscalls, poll(2) with a
//     self-pipe so Close unblocks a pending read immediately.
//   - PortableReader: any platform supported by go.bug.st/serial.
//
// ReadLine blocks until a complete delimiter-terminated line is available or
// Config.ReadTimeout elapses. A timeout is not an error: ReadLine returns a nil
// line and a nil error, and the caller simply reads again. Partial data that
// arrived before the timeout is kept for the next call.
//
// Example usage:
//
//	cfg := serial.Config{
//	    Device:      "/dev/ttyUSB0",
//	    BaudRate:    9600,
//	    ReadTimeout: time.Second,
//	}
//	reader, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	for {
//	    line, err := reader.ReadLine()
//	    if err != nil {
//	        log.Println("read error:", err)
//	        return
//	    }
//	    if line == nil {
//	        continue // timeout
//	    }
//	    fmt.Println("Received:", string(line))
//	}
//
// Close may be called from another goroutine at any time; it is safe to call
// more than once.
package serial
