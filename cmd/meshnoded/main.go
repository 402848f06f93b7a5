// Command meshnoded runs one mesh node: it loads configuration, opens
// the radio/GPS/storage adapters the configuration names, assembles a
// pkg/node.Node, and drives it both over the air and through a simple
// line-oriented console for the send/broadcast/link/SOS/status
// control-surface operations. The same command set is optionally also
// reachable over TCP (--control-addr) for a remote companion UI, with
// an mDNS/DNS-SD announcement (--discoverable) so that UI can find the
// node without being told its address.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/loramesh/meshnet/pkg/config"
	"github.com/loramesh/meshnet/pkg/discovery"
	"github.com/loramesh/meshnet/pkg/events"
	"github.com/loramesh/meshnet/pkg/gps"
	"github.com/loramesh/meshnet/pkg/gps/nmea"
	"github.com/loramesh/meshnet/pkg/node"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/radio/serialradio"
	"github.com/loramesh/meshnet/pkg/session"
	"github.com/loramesh/meshnet/pkg/sos"
	"github.com/loramesh/meshnet/pkg/storage"
)

// gpsBaud is the near-universal default baud rate consumer GPS modules
// stream NMEA sentences at.
const gpsBaud = 9600

func main() {
	radioDevice := pflag.String("radio-device", "", "Serial device or PTY the radio transceiver is attached to.")
	radioBaud := pflag.Int("radio-baud", 115200, "Serial baud rate for --radio-device.")
	radioPTY := pflag.Bool("radio-pty", false, "Open a loopback pseudo-terminal instead of a real --radio-device, for local testing.")
	gpsDevice := pflag.String("gps-device", "", "Serial device streaming NMEA sentences, if a GPS is attached.")
	blobDir := pflag.String("blob-dir", "", "Directory backing node naming and message-history persistence. Empty disables persistence.")
	nodeSerial := pflag.String("node-serial", "", "Hardware serial string to derive node_address from, when node_address is unset.")
	nodeName := pflag.String("name", "", "Human-readable name to announce for this node.")
	controlAddr := pflag.String("control-addr", "", "host:port (or :port) to accept remote control-surface connections on, in addition to the stdin console. Empty disables it.")
	discoverable := pflag.Bool("discoverable", false, "Announce the control surface via mDNS/DNS-SD. Requires --control-addr.")

	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	if flags.Help() {
		pflag.Usage()
		return
	}

	cfg, err := config.Load(flags.ConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg = flags.Apply(cfg, pflag.CommandLine)

	if cfg.NodeAddress == 0 {
		if *nodeSerial == "" {
			fmt.Fprintln(os.Stderr, "meshnoded: node_address is unset; pass --node-address or --node-serial")
			os.Exit(1)
		}
		cfg.NodeAddress = node.DeriveAddress(*nodeSerial)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	r, err := openRadio(*radioDevice, *radioBaud, *radioPTY)
	if err != nil {
		logger.Fatal("opening radio", "err", err)
	}

	// gpsSource stays a nil gps.Source (not a typed-nil *nmea.Reader)
	// when no device is configured, so node.New's own nil check works.
	var gpsSource gps.Source
	if *gpsDevice != "" {
		reader, err := openGPS(*gpsDevice)
		if err != nil {
			logger.Fatal("opening gps device", "err", err)
		}
		gpsSource = reader
	}

	var blobs storage.BlobStore
	if *blobDir != "" {
		store, err := storage.NewDirStore(*blobDir)
		if err != nil {
			logger.Fatal("opening blob dir", "err", err)
		}
		blobs = store
	}

	var identity [session.IdentitySize]byte
	if _, err := rand.Read(identity[:]); err != nil {
		logger.Fatal("generating handshake identity", "err", err)
	}

	n, err := node.New(cfg, identity, r, gpsSource, nil, blobs, logger, time.Now())
	if err != nil {
		logger.Fatal("assembling node", "err", err)
	}

	if *nodeName != "" {
		if err := n.SetNodeName(*nodeName); err != nil {
			logger.Warn("persisting node name", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	go n.Run(ctx)
	go logEvents(logger, n.Events().Events())

	if *controlAddr != "" {
		listener, err := net.Listen("tcp", *controlAddr)
		if err != nil {
			logger.Fatal("opening control surface listener", "err", err)
		}
		defer listener.Close()
		go acceptControlConns(ctx, logger, n, listener)

		if *discoverable {
			port := listener.Addr().(*net.TCPAddr).Port
			name := *nodeName
			if name == "" {
				name = discovery.DefaultServiceName(fmt.Sprintf("meshnoded-%d", cfg.NodeAddress))
			}
			stop, err := discovery.Announce(ctx, name, port, logger)
			if err != nil {
				logger.Warn("dns-sd announce failed", "err", err)
			} else {
				defer stop()
			}
		}
	} else if *discoverable {
		logger.Warn("--discoverable has no effect without --control-addr")
	}

	logger.Info("node started", "address", cfg.NodeAddress)
	runConsole(ctx, logger, n)
	cancel()
}

// acceptControlConns runs the control surface's TCP side: one
// goroutine per connected client, each driving the same line-oriented
// dispatch the stdin console uses, until ctx is canceled or the
// listener is closed.
func acceptControlConns(ctx context.Context, logger *log.Logger, n *node.Node, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("control surface accept failed", "err", err)
			continue
		}
		go serveControlConn(ctx, logger, n, conn)
	}
}

func serveControlConn(ctx context.Context, logger *log.Logger, n *node.Node, conn net.Conn) {
	defer conn.Close()
	logger.Info("control surface client connected", "remote", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := dispatch(conn, n, strings.TrimSpace(line)); err != nil {
				fmt.Fprintf(conn, "error: %v\n", err)
			}
		}
	}
}

func openRadio(device string, baud int, pty bool) (node.Radio, error) {
	switch {
	case pty:
		r, path, err := serialradio.OpenPTY()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "radio loopback pty: %s\n", path)
		return r, nil
	case device != "":
		return serialradio.Open(device, baud)
	default:
		return nil, fmt.Errorf("no --radio-device or --radio-pty given")
	}
}

// openGPS opens device as a raw serial stream of NMEA sentences — a
// GPS module's wire format, unlike --radio-device's mesh-framed
// traffic, so this talks to github.com/pkg/term directly rather than
// through serialradio's frame encapsulation.
func openGPS(device string) (*nmea.Reader, error) {
	t, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, err
	}
	if err := t.SetSpeed(gpsBaud); err != nil {
		t.Close()
		return nil, err
	}
	return nmea.NewReader(t), nil
}

func logEvents(logger *log.Logger, ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.Message:
			logger.Info("on_message", "source", e.Source, "bytes", len(e.Payload), "rssi", e.RSSI, "snr", e.SNR)
		case events.LinkEstablished:
			logger.Info("on_link_established", "peer", e.Peer)
		case events.LinkClosed:
			logger.Info("on_link_closed", "peer", e.Peer)
		case events.BundleDelivered:
			logger.Info("on_bundle_delivered", "bundle_id", e.BundleID, "bytes", len(e.Payload))
		case events.SOSReceived:
			logger.Warn("on_sos_received", "source", e.Source, "rssi", e.RSSI)
		}
	}
}

// runConsole drives the control surface from stdin, one command per
// line, until ctx is canceled or stdin closes.
func runConsole(ctx context.Context, logger *log.Logger, n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("meshnoded console: send <addr> <text> | broadcast <text> | link <addr> | unlink <addr> | sos [text] | cancel-sos | name <text> | status | neighbors | routes | bundles | quit")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := dispatch(os.Stdout, n, strings.TrimSpace(line)); err != nil {
				logger.Error("command failed", "err", err)
			}
		}
	}
}

// dispatch runs one control-surface command line against n, writing
// any textual result to w. The stdin console and each TCP control
// connection both funnel through this, so the command set behaves
// identically over either transport.
func dispatch(w io.Writer, n *node.Node, line string) error {
	if line == "" {
		return nil
	}
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "send":
		if len(fields) < 3 {
			return fmt.Errorf("usage: send <addr> <text>")
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			return err
		}
		return n.Send(addr, []byte(fields[2]), true)

	case "broadcast":
		if len(fields) < 2 {
			return fmt.Errorf("usage: broadcast <text>")
		}
		return n.Broadcast([]byte(strings.Join(fields[1:], " ")))

	case "link":
		if len(fields) < 2 {
			return fmt.Errorf("usage: link <addr>")
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			return err
		}
		return n.RequestLink(addr)

	case "unlink":
		if len(fields) < 2 {
			return fmt.Errorf("usage: unlink <addr>")
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			return err
		}
		n.CloseLink(addr)
		return nil

	case "sos":
		text := ""
		if len(fields) > 1 {
			text = strings.Join(fields[1:], " ")
		}
		return n.ActivateSOS(sos.TypeDistress, text)

	case "sos-test":
		text := ""
		if len(fields) > 1 {
			text = strings.Join(fields[1:], " ")
		}
		return n.ActivateSOS(sos.TypeTest, text)

	case "cancel-sos":
		n.CancelSOS()
		return nil

	case "name":
		if len(fields) < 2 {
			return fmt.Errorf("usage: name <text>")
		}
		return n.SetNodeName(strings.Join(fields[1:], " "))

	case "status":
		st := n.GetStatus()
		fmt.Fprintf(w, "address=%d name=%q battery=%d%% synced=%v source=%s stratum=%d neighbors=%d routes=%d sessions=%d held_bundles=%d sos_active=%v\n",
			st.Address, st.Name, st.BatteryPercent, st.TimeSynced, st.TimeSource, st.TimeStratum, st.NeighborCount, st.RouteCount, st.SessionCount, st.HeldBundles, st.SOSActive)
		return nil

	case "neighbors":
		for _, nb := range n.ListNeighbors() {
			fmt.Fprintf(w, "%d %q rssi=%d snr=%d quality=%.0f last_seen=%s\n", nb.Address, nb.Name, nb.RSSI, nb.SNR, nb.Quality, nb.LastSeen.Format(time.RFC3339))
		}
		return nil

	case "routes":
		for _, rt := range n.ListRoutes() {
			fmt.Fprintf(w, "%d via %d hops=%d quality=%.0f\n", rt.Destination, rt.NextHop, rt.HopCount, rt.Quality)
		}
		return nil

	case "bundles":
		for _, b := range n.ListBundles() {
			fmt.Fprintf(w, "%d %d->%d bytes=%d created=%s\n", b.ID, b.Source, b.Destination, len(b.Payload), b.CreatedAt.Format(time.RFC3339))
		}
		return nil

	case "quit", "exit":
		os.Exit(0)
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseAddr(s string) (uint32, error) {
	if s == "*" || s == "broadcast" {
		return packet.BroadcastAddress, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
