package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/transport"
)

func main() {
	var (
		addr     = flag.String("addr", "localhost", "host address")
		port     = flag.Int("port", 5556, "data port")
		revision = flag.String("revision", "stream", "protocol revision: stream|legacy")
		count    = flag.Int("n", 0, "stop after n messages; 0 runs forever")
		floats   = flag.Int("floats", 8, "payload floats to print for data and spike messages")
	)
	flag.Parse()

	rev, err := protocol.ParseRevision(*revision)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	codec := protocol.NewCodec(rev)

	conn, err := transport.Connect(transport.Sub, *addr, *port, transport.WithBlockingReceive())
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribe error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	for i := 0; *count == 0 || i < *count; i++ {
		frames, err := conn.ReceiveFrames()
		if errors.Is(err, transport.ErrNoMessage) {
			i--
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "receive error: %v\n", err)
			os.Exit(1)
		}
		dump(codec, frames, *floats)
	}
}

func dump(codec *protocol.Codec, frames [][]byte, floats int) {
	fmt.Printf("Message (%d frames):\n", len(frames))
	if len(frames) > 0 {
		fmt.Printf("  tag:    %q\n", protocol.ParseTag(frames[0]))
	}
	if len(frames) > 1 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, frames[1], "  ", "  "); err == nil {
			fmt.Printf("  header: %s\n", pretty.String())
		} else {
			fmt.Printf("  header(raw): %s\n", printable(frames[1]))
		}
	}
	msg, err := codec.Decode(frames)
	if err != nil {
		fmt.Printf("  decode error: %v\n", err)
		return
	}
	switch m := msg.(type) {
	case *protocol.DataMessage:
		if samples, err := m.Samples(); err == nil {
			fmt.Printf("  samples: %d %v\n", len(samples), head(samples, floats))
		}
	case *protocol.SpikeMessage:
		if wf, err := m.Waveform(); err == nil {
			fmt.Printf("  waveform: %d %v\n", len(wf), head(wf, floats))
		}
	case *protocol.EventMessage:
		switch m.Content.Type {
		case protocol.EventTTL:
			if w, err := protocol.DecodeTTL(m.Payload); err == nil {
				fmt.Printf("  ttl: line=%d state=%v word=%#x\n", w.Line, w.State, w.Word)
				return
			}
		case protocol.EventTimestamp:
			if ts, err := protocol.DecodeTimestampEvent(m.Payload); err == nil {
				fmt.Printf("  timestamp: %d\n", ts)
				return
			}
		}
		if len(m.Payload) > 0 {
			fmt.Printf("  data: %s\n", printable(m.Payload))
		}
	}
}

func head(v []float32, n int) []float32 {
	if len(v) > n {
		return v[:n]
	}
	return v
}

func printable(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s := base64.StdEncoding.EncodeToString(b)
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return "base64:" + s
}
