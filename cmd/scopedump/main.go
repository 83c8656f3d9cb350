// Scopedump is a debugging client for the oscilloscope simulator: it
// subscribes to published frames, prints a summary of each, and can write
// the last received frame's arrays to .npy files for offline inspection.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/rpc/jsonrpc"
	"os"

	zmq "github.com/pebbe/zmq4"
	"github.com/sbinet/npyio"

	oscsim "github.com/VigneshVSV/oscilloscope-simulator"
)

func main() {
	host := flag.String("host", "localhost", "server host")
	portbase := flag.Int("port", 5600, "server base port (RPC; frames = base+2)")
	codecName := flag.String("codec", "json", "frame codec the server publishes with (json or raw)")
	every := flag.Int("every", 1, "subscription cadence: receive every Nth frame")
	count := flag.Int("count", 10, "number of frames to receive before exiting")
	npyPrefix := flag.String("npy", "", "if set, write the last frame's arrays to <prefix>_<name>.npy")
	flag.Parse()

	client, err := jsonrpc.Dial("tcp", fmt.Sprintf("%s:%d", *host, *portbase))
	if err != nil {
		log.Fatalf("could not connect to RPC server: %v", err)
	}
	defer client.Close()

	// The raw codec's schema is the server's channel naming.
	dummy := ""
	var channels oscsim.ChannelListReply
	if err := client.Call("ScopeControl.ChannelList", &dummy, &channels); err != nil {
		log.Fatalf("ChannelList failed: %v", err)
	}
	names := make([]string, len(channels.Channels))
	for i, ch := range channels.Channels {
		names[i] = ch.Name
	}
	codec, err := oscsim.CodecByName(*codecName, names)
	if err != nil {
		log.Fatal(err)
	}

	var sub oscsim.SubscriptionInfo
	if err := client.Call("ScopeControl.Subscribe", &oscsim.SubscribeObject{Every: *every}, &sub); err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}
	fmt.Printf("subscription %s: every %d frames on port %d\n", sub.ID, sub.Every, sub.Port)
	defer func() {
		var ok bool
		client.Call("ScopeControl.Unsubscribe", &sub.ID, &ok)
	}()

	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		log.Fatal(err)
	}
	defer socket.Close()
	if err = socket.Connect(fmt.Sprintf("tcp://%s:%d", *host, sub.Port)); err != nil {
		log.Fatal(err)
	}
	if err = socket.SetSubscribe(sub.ID); err != nil {
		log.Fatal(err)
	}

	var last *oscsim.Frame
	for received := 0; received < *count; {
		parts, err := socket.RecvMessageBytes(0)
		if err != nil {
			log.Fatalf("receive failed: %v", err)
		}
		if len(parts) != 2 {
			log.Printf("ignoring %d-part message, want 2", len(parts))
			continue
		}
		frame, err := codec.DecodeFrame(parts[1])
		if err != nil {
			log.Printf("could not decode frame: %v", err)
			continue
		}
		fmt.Printf("frame %6d: %d channels x %d samples, %d bytes on the wire, at %s\n",
			frame.Seq, frame.NChan(), frame.NSamples(), len(parts[1]),
			frame.Timestamp.Format("15:04:05.000000"))
		last = frame
		received++
	}

	if *npyPrefix != "" && last != nil {
		writeNpy(fmt.Sprintf("%s_time.npy", *npyPrefix), last.TimeAxis)
		for i, name := range last.Names {
			writeNpy(fmt.Sprintf("%s_%s.npy", *npyPrefix, name), last.Samples[i])
		}
	}
}

func writeNpy(filename string, data []float64) {
	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("could not create %s: %v", filename, err)
	}
	defer f.Close()
	if err := npyio.Write(f, data); err != nil {
		log.Fatalf("could not write %s: %v", filename, err)
	}
	fmt.Printf("wrote %s (%d samples)\n", filename, len(data))
}
