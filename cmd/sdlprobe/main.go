//go:build linux

// sdlprobe dials a head-unit transport endpoint, pushes a few frames through
// it and prints every lifecycle callback. Useful for checking that a remote
// endpoint speaks a byte stream at all before wiring it into a controller.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"go.uber.org/zap"

	sdlink "github.com/oivin-luxoft/sdlink"
)

func main() {
	driverFlag := flag.String("driver", "tcp", "The transport driver (only tcp is supported)")
	hostFlag := flag.String("host", "127.0.0.1", "Remote IPv4 address (tcp driver)")
	portFlag := flag.Int("port", 12345, "Remote port (tcp driver)")
	appFlag := flag.Int("app", 1, "Application handle to address")
	countFlag := flag.Int("count", 3, "Number of frames to send")
	payloadFlag := flag.String("payload", "ping", "Frame payload prefix")
	verboseFlag := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if *driverFlag != "tcp" {
		log.Fatalf("only the tcp driver is wired into this probe, got %q", *driverFlag)
	}

	ip := net.ParseIP(*hostFlag)
	if ip == nil {
		log.Fatalf("invalid host: %s", *hostFlag)
	}

	app := sdlink.ApplicationHandle(*appFlag)
	dev, err := sdlink.NewTCPDevice("probe-device", "probe target", ip,
		map[sdlink.ApplicationHandle]int{app: *portFlag})
	if err != nil {
		log.Fatalf("device record: %v", err)
	}

	logger := zap.NewNop()
	if *verboseFlag {
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatalf("logger: %v", err)
		}
	}

	ctrl := &probeController{dev: dev, done: make(chan struct{})}
	conn, err := sdlink.NewConnection(*driverFlag, dev.UID(), app, ctrl,
		sdlink.WithLogger(logger),
		sdlink.WithConnectRetryDelay(500*time.Millisecond))
	if err != nil {
		log.Fatalf("connection: %v", err)
	}
	if err := conn.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}

	for i := 0; i < *countFlag; i++ {
		payload := []byte(fmt.Sprintf("%s %d", *payloadFlag, i))
		if err := conn.SendData(sdlink.NewRawMessage(0, 0, payload)); err != nil {
			log.Printf("send %d: %v", i, err)
			break
		}
	}

	time.Sleep(time.Second)
	if err := conn.Disconnect(); err != nil {
		log.Printf("disconnect: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("close: %v", err)
	}

	select {
	case <-ctrl.done:
	case <-time.After(5 * time.Second):
		log.Println("no terminal callback observed")
	}
}

type probeController struct {
	dev  sdlink.Device
	done chan struct{}
}

func (c *probeController) FindDevice(uid sdlink.DeviceUID) (sdlink.Device, error) {
	if uid == c.dev.UID() {
		return c.dev, nil
	}
	return nil, sdlink.ErrDeviceNotFound
}

func (c *probeController) ConnectionCreated(conn *sdlink.Connection, uid sdlink.DeviceUID, app sdlink.ApplicationHandle) {
	log.Printf("[%s/%d] connection created", uid, app)
}

func (c *probeController) ConnectDone(uid sdlink.DeviceUID, app sdlink.ApplicationHandle) {
	log.Printf("[%s/%d] connected", uid, app)
}

func (c *probeController) DataReceiveDone(uid sdlink.DeviceUID, app sdlink.ApplicationHandle, msg *sdlink.RawMessage) {
	log.Printf("[%s/%d] received %d bytes: %q", uid, app, msg.DataSize(), msg.Data)
}

func (c *probeController) DataSendDone(uid sdlink.DeviceUID, app sdlink.ApplicationHandle, msg *sdlink.RawMessage) {
	log.Printf("[%s/%d] sent %d bytes", uid, app, msg.DataSize())
}

func (c *probeController) DataSendFailed(uid sdlink.DeviceUID, app sdlink.ApplicationHandle, msg *sdlink.RawMessage, err error) {
	log.Printf("[%s/%d] send of %d bytes failed: %v", uid, app, msg.DataSize(), err)
}

func (c *probeController) ConnectionAborted(uid sdlink.DeviceUID, app sdlink.ApplicationHandle, err error) {
	log.Printf("[%s/%d] aborted: %v", uid, app, err)
	close(c.done)
}

func (c *probeController) ConnectionFinished(uid sdlink.DeviceUID, app sdlink.ApplicationHandle) {
	log.Printf("[%s/%d] finished", uid, app)
	close(c.done)
}
