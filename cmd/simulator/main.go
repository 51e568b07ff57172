package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

var (
	serverURL      = flag.String("server", "ws://localhost:9000/ocpp", "Bridge WebSocket URL")
	chargePointID  = flag.String("id", "CP001", "Charge Point ID")
	vendor         = flag.String("vendor", "SimVendor", "Charge Point Vendor")
	model          = flag.String("model", "SimulatorV1", "Charge Point Model")
	serial         = flag.String("serial", "SIM001", "Serial Number")
	firmware       = flag.String("firmware", "1.0.0", "Firmware Version")
	idTag          = flag.String("tag", "SIMTAG", "Default idTag for local charging")
	connectorCount = flag.Int("connectors", 1, "Number of connectors")
	interactive    = flag.Bool("interactive", false, "Enable interactive mode")
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	// Setup logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create simulator config
	config := &SimulatorConfig{
		ServerURL:       *serverURL,
		ChargePointID:   *chargePointID,
		Vendor:          *vendor,
		Model:           *model,
		SerialNumber:    *serial,
		FirmwareVersion: *firmware,
		IdTag:           *idTag,
		ConnectorCount:  *connectorCount,
	}

	// Create and start simulator
	simulator := NewSimulator(config, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down simulator...")
		simulator.Stop()
		os.Exit(0)
	}()

	// Connect to the bridge
	if err := simulator.Connect(); err != nil {
		logger.Fatal("Failed to connect", zap.Error(err))
	}

	if *interactive {
		runInteractiveMode(simulator)
	} else {
		fmt.Printf("OCPP 1.6 Charge Point Simulator started\n")
		fmt.Printf("  ID: %s\n", *chargePointID)
		fmt.Printf("  Server: %s\n", *serverURL)
		fmt.Println("\nPress Ctrl+C to stop")

		// Keep running
		select {}
	}
}

func runInteractiveMode(sim *Simulator) {
	fmt.Println("\nOCPP 1.6 Charge Point Simulator - Interactive Mode")
	fmt.Println("==================================================")
	fmt.Println("Commands:")
	fmt.Println("  plug <connector>        - Plug in a vehicle (Preparing)")
	fmt.Println("  start <connector>       - Start charging on connector")
	fmt.Println("  stop                    - Stop current charging")
	fmt.Println("  auth [idTag]            - Send Authorize")
	fmt.Println("  status <connector> [st] - Set connector status")
	fmt.Println("  meter <value>           - Send meter value (Wh)")
	fmt.Println("  heartbeat               - Send heartbeat")
	fmt.Println("  limit                   - Show active charging limit")
	fmt.Println("  fault <connector>       - Simulate fault on connector")
	fmt.Println("  reset                   - Simulate device reset")
	fmt.Println("  quit                    - Exit simulator")
	fmt.Println("")

	sim.RunInteractive()
}
