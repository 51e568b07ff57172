package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SimulatorConfig holds the simulator configuration
type SimulatorConfig struct {
	ServerURL       string
	ChargePointID   string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	IdTag           string
	ConnectorCount  int
}

// ConnectorState represents a connector's state
type ConnectorState struct {
	ID         int
	Status     string // Available, Preparing, Charging, Finishing, Faulted
	MeterWh    int
	IsCharging bool
}

// Simulator simulates an OCPP 1.6J charge point talking to the bridge.
type Simulator struct {
	config     *SimulatorConfig
	conn       *websocket.Conn
	log        *zap.Logger
	connectors []ConnectorState

	// State
	currentTxID       int
	currentLimitA     float64
	isCharging        bool
	heartbeatInterval int

	// Message handling
	messageID   int
	pendingMsgs map[string]chan []byte
	mu          sync.RWMutex
	writeMu     sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSimulator creates a new charge point simulator
func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	connectors := make([]ConnectorState, config.ConnectorCount)
	for i := 0; i < config.ConnectorCount; i++ {
		connectors[i] = ConnectorState{
			ID:     i + 1,
			Status: "Available",
		}
	}

	return &Simulator{
		config:            config,
		log:               log,
		connectors:        connectors,
		pendingMsgs:       make(map[string]chan []byte),
		stopChan:          make(chan struct{}),
		heartbeatInterval: 300,
	}
}

// Connect dials the bridge's charger-facing endpoint
func (s *Simulator) Connect() error {
	url := fmt.Sprintf("%s/%s", s.config.ServerURL, s.config.ChargePointID)

	dialer := websocket.Dialer{
		Subprotocols: []string{"ocpp1.6"},
	}

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.conn = conn
	s.log.Info("Connected",
		zap.String("url", url),
		zap.String("chargePointID", s.config.ChargePointID),
	)

	// Start message reader
	s.wg.Add(1)
	go s.readMessages()

	// Send BootNotification
	resp, err := s.sendBootNotification()
	if err != nil {
		s.log.Error("BootNotification failed", zap.Error(err))
	} else {
		s.log.Info("BootNotification response", zap.Any("response", resp))
		if interval, ok := resp["interval"].(float64); ok && interval > 0 {
			s.heartbeatInterval = int(interval)
		}
	}

	// Announce connectors
	for _, c := range s.connectors {
		s.sendStatusNotification(c.ID, c.Status)
	}

	// Start heartbeat goroutine
	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

// Stop stops the simulator
func (s *Simulator) Stop() {
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
}

// readMessages reads and processes incoming messages
func (s *Simulator) readMessages() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				s.log.Error("Read error", zap.Error(err))
				return
			}
			s.handleMessage(message)
		}
	}
}

// handleMessage processes an incoming OCPP-J message
func (s *Simulator) handleMessage(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Error("Invalid message", zap.Error(err))
		return
	}

	if len(raw) < 3 {
		return
	}

	var msgType int
	json.Unmarshal(raw[0], &msgType)

	var msgID string
	json.Unmarshal(raw[1], &msgID)

	switch msgType {
	case 2: // Call from the central system
		var action string
		json.Unmarshal(raw[2], &action)
		var payload json.RawMessage
		if len(raw) > 3 {
			payload = raw[3]
		}
		s.handleServerRequest(msgID, action, payload)

	case 3: // CallResult for one of our Calls
		s.mu.Lock()
		if ch, ok := s.pendingMsgs[msgID]; ok {
			ch <- raw[2]
			delete(s.pendingMsgs, msgID)
		}
		s.mu.Unlock()

	case 4: // CallError
		s.mu.Lock()
		if ch, ok := s.pendingMsgs[msgID]; ok {
			close(ch)
			delete(s.pendingMsgs, msgID)
		}
		s.mu.Unlock()
	}
}

// handleServerRequest handles Calls arriving from the bridge or CSMS
func (s *Simulator) handleServerRequest(msgID, action string, payload json.RawMessage) {
	s.log.Info("Received request", zap.String("action", action))

	var response interface{}

	switch action {
	case "RemoteStartTransaction":
		response = s.handleRemoteStart(payload)
	case "RemoteStopTransaction":
		response = s.handleRemoteStop(payload)
	case "SetChargingProfile":
		response = s.handleSetChargingProfile(payload)
	case "ClearChargingProfile":
		response = s.handleClearChargingProfile(payload)
	case "Reset":
		response = s.handleReset(payload)
	case "ChangeAvailability":
		response = map[string]interface{}{"status": "Accepted"}
	case "UnlockConnector":
		response = map[string]interface{}{"status": "Unlocked"}
	case "TriggerMessage":
		response = s.handleTriggerMessage(payload)
	case "GetConfiguration":
		response = s.handleGetConfiguration(payload)
	case "ChangeConfiguration":
		response = map[string]interface{}{"status": "Accepted"}
	default:
		s.sendCallError(msgID, "NotImplemented", fmt.Sprintf("Action %s not implemented", action))
		return
	}

	s.sendCallResult(msgID, response)
}

// --- Request Handlers ---

func (s *Simulator) handleRemoteStart(payload json.RawMessage) map[string]interface{} {
	var req struct {
		IdTag       string `json:"idTag"`
		ConnectorId *int   `json:"connectorId"`
	}
	json.Unmarshal(payload, &req)

	connectorID := 1
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	s.log.Info("Remote start accepted",
		zap.String("idTag", req.IdTag),
		zap.Int("connectorID", connectorID),
	)

	// A real charge point authorizes the tag and then opens the transaction
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.startTransaction(connectorID, req.IdTag)
	}()

	return map[string]interface{}{"status": "Accepted"}
}

func (s *Simulator) handleRemoteStop(payload json.RawMessage) map[string]interface{} {
	var req struct {
		TransactionId int `json:"transactionId"`
	}
	json.Unmarshal(payload, &req)

	if !s.isCharging || req.TransactionId != s.currentTxID {
		return map[string]interface{}{"status": "Rejected"}
	}

	s.log.Info("Remote stop accepted", zap.Int("transactionID", req.TransactionId))

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.stopTransaction("Remote")
	}()

	return map[string]interface{}{"status": "Accepted"}
}

func (s *Simulator) handleSetChargingProfile(payload json.RawMessage) map[string]interface{} {
	var req struct {
		ConnectorId     int `json:"connectorId"`
		ChargingProfile struct {
			ChargingProfileId      int    `json:"chargingProfileId"`
			ChargingProfilePurpose string `json:"chargingProfilePurpose"`
			ChargingSchedule       struct {
				ChargingRateUnit       string `json:"chargingRateUnit"`
				ChargingSchedulePeriod []struct {
					Limit float64 `json:"limit"`
				} `json:"chargingSchedulePeriod"`
			} `json:"chargingSchedule"`
		} `json:"chargingProfile"`
	}

	// The bridge also sends the flat shape with the profile fields at the
	// top level, so fall back to that when the nested form is empty.
	if err := json.Unmarshal(payload, &req); err == nil &&
		len(req.ChargingProfile.ChargingSchedule.ChargingSchedulePeriod) == 0 {
		var flat struct {
			ConnectorId      int    `json:"connectorId"`
			Purpose          string `json:"chargingProfilePurpose"`
			ChargingSchedule struct {
				ChargingRateUnit       string `json:"chargingRateUnit"`
				ChargingSchedulePeriod []struct {
					Limit float64 `json:"limit"`
				} `json:"chargingSchedulePeriod"`
			} `json:"chargingSchedule"`
		}
		if json.Unmarshal(payload, &flat) == nil {
			req.ConnectorId = flat.ConnectorId
			req.ChargingProfile.ChargingProfilePurpose = flat.Purpose
			req.ChargingProfile.ChargingSchedule.ChargingRateUnit = flat.ChargingSchedule.ChargingRateUnit
			req.ChargingProfile.ChargingSchedule.ChargingSchedulePeriod = flat.ChargingSchedule.ChargingSchedulePeriod
		}
	}

	periods := req.ChargingProfile.ChargingSchedule.ChargingSchedulePeriod
	if len(periods) > 0 {
		s.mu.Lock()
		s.currentLimitA = periods[0].Limit
		s.mu.Unlock()
		s.log.Info("Charging profile applied",
			zap.Int("connectorId", req.ConnectorId),
			zap.String("purpose", req.ChargingProfile.ChargingProfilePurpose),
			zap.Float64("limit", periods[0].Limit),
			zap.String("unit", req.ChargingProfile.ChargingSchedule.ChargingRateUnit),
		)
	}

	return map[string]interface{}{"status": "Accepted"}
}

func (s *Simulator) handleClearChargingProfile(payload json.RawMessage) map[string]interface{} {
	s.mu.Lock()
	s.currentLimitA = 0
	s.mu.Unlock()
	s.log.Info("Charging profile cleared")

	return map[string]interface{}{"status": "Accepted"}
}

func (s *Simulator) handleReset(payload json.RawMessage) map[string]interface{} {
	var req struct {
		Type string `json:"type"`
	}
	json.Unmarshal(payload, &req)

	s.log.Info("Reset requested", zap.String("type", req.Type))

	go func() {
		if req.Type == "Hard" {
			time.Sleep(500 * time.Millisecond)
		} else {
			time.Sleep(2 * time.Second)
		}

		s.mu.Lock()
		s.isCharging = false
		for i := range s.connectors {
			s.connectors[i].Status = "Available"
			s.connectors[i].IsCharging = false
		}
		s.mu.Unlock()

		s.sendBootNotification()
	}()

	return map[string]interface{}{"status": "Accepted"}
}

func (s *Simulator) handleTriggerMessage(payload json.RawMessage) map[string]interface{} {
	var req struct {
		RequestedMessage string `json:"requestedMessage"`
	}
	json.Unmarshal(payload, &req)

	go func() {
		time.Sleep(100 * time.Millisecond)
		switch req.RequestedMessage {
		case "BootNotification":
			s.sendBootNotification()
		case "Heartbeat":
			s.sendHeartbeat()
		case "StatusNotification":
			for _, conn := range s.connectors {
				s.sendStatusNotification(conn.ID, conn.Status)
			}
		case "MeterValues":
			if s.isCharging && len(s.connectors) > 0 {
				s.sendMeterValues(1, s.connectors[0].MeterWh)
			}
		}
	}()

	return map[string]interface{}{"status": "Accepted"}
}

func (s *Simulator) handleGetConfiguration(payload json.RawMessage) map[string]interface{} {
	return map[string]interface{}{
		"configurationKey": []map[string]interface{}{
			{"key": "HeartbeatInterval", "readonly": false, "value": strconv.Itoa(s.heartbeatInterval)},
			{"key": "NumberOfConnectors", "readonly": true, "value": strconv.Itoa(len(s.connectors))},
		},
	}
}

// --- Transaction flow ---

func (s *Simulator) startTransaction(connectorID int, idTag string) {
	meterStart := 0
	if connectorID <= len(s.connectors) {
		meterStart = s.connectors[connectorID-1].MeterWh
	}

	resp, err := s.sendCall("StartTransaction", map[string]interface{}{
		"connectorId": connectorID,
		"idTag":       idTag,
		"meterStart":  meterStart,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error("StartTransaction failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if txID, ok := resp["transactionId"].(float64); ok {
		s.currentTxID = int(txID)
	}
	s.isCharging = true
	if connectorID <= len(s.connectors) {
		s.connectors[connectorID-1].Status = "Charging"
		s.connectors[connectorID-1].IsCharging = true
	}
	s.mu.Unlock()

	s.sendStatusNotification(connectorID, "Charging")
	s.log.Info("Transaction started", zap.Int("transactionID", s.currentTxID))
}

func (s *Simulator) stopTransaction(reason string) {
	s.mu.Lock()
	txID := s.currentTxID
	meterStop := 0
	if len(s.connectors) > 0 {
		meterStop = s.connectors[0].MeterWh
		s.connectors[0].Status = "Finishing"
		s.connectors[0].IsCharging = false
	}
	s.isCharging = false
	s.mu.Unlock()

	s.sendCall("StopTransaction", map[string]interface{}{
		"transactionId": txID,
		"meterStop":     meterStop,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"reason":        reason,
	})
	s.sendStatusNotification(1, "Available")
	s.log.Info("Transaction stopped", zap.Int("transactionID", txID))
}

// --- OCPP plumbing ---

func (s *Simulator) sendCall(action string, payload interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	s.messageID++
	msgID := fmt.Sprintf("%d", s.messageID)
	responseChan := make(chan []byte, 1)
	s.pendingMsgs[msgID] = responseChan
	s.mu.Unlock()

	msg := []interface{}{2, msgID, action, payload}
	data, _ := json.Marshal(msg)

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case respData, ok := <-responseChan:
		if !ok {
			return nil, fmt.Errorf("call %s rejected", action)
		}
		var result map[string]interface{}
		json.Unmarshal(respData, &result)
		return result, nil
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	}
}

func (s *Simulator) sendCallResult(msgID string, payload interface{}) {
	msg := []interface{}{3, msgID, payload}
	data, _ := json.Marshal(msg)
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
}

func (s *Simulator) sendCallError(msgID, code, desc string) {
	msg := []interface{}{4, msgID, code, desc, map[string]interface{}{}}
	data, _ := json.Marshal(msg)
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
}

func (s *Simulator) sendBootNotification() (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"chargePointVendor":       s.config.Vendor,
		"chargePointModel":        s.config.Model,
		"chargePointSerialNumber": s.config.SerialNumber,
		"firmwareVersion":         s.config.FirmwareVersion,
	}
	return s.sendCall("BootNotification", payload)
}

func (s *Simulator) sendHeartbeat() {
	s.sendCall("Heartbeat", map[string]interface{}{})
}

func (s *Simulator) sendAuthorize(idTag string) {
	resp, err := s.sendCall("Authorize", map[string]interface{}{"idTag": idTag})
	if err != nil {
		s.log.Error("Authorize failed", zap.Error(err))
		return
	}
	s.log.Info("Authorize response", zap.Any("response", resp))
}

func (s *Simulator) sendStatusNotification(connectorID int, status string) {
	payload := map[string]interface{}{
		"connectorId": connectorID,
		"errorCode":   "NoError",
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	s.sendCall("StatusNotification", payload)
}

func (s *Simulator) sendMeterValues(connectorID, valueWh int) {
	payload := map[string]interface{}{
		"connectorId": connectorID,
		"meterValue": []map[string]interface{}{
			{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"sampledValue": []map[string]interface{}{
					{
						"value":     strconv.Itoa(valueWh),
						"measurand": "Energy.Active.Import.Register",
						"unit":      "Wh",
					},
				},
			},
		},
	}
	if s.isCharging {
		payload["transactionId"] = s.currentTxID
	}
	s.sendCall("MeterValues", payload)
}

func (s *Simulator) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sendHeartbeat()
		}
	}
}

// RunInteractive runs the simulator in interactive mode
func (s *Simulator) RunInteractive() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)

		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "plug":
			connID := 1
			if len(args) > 0 {
				connID, _ = strconv.Atoi(args[0])
			}
			s.sendStatusNotification(connID, "Preparing")
			fmt.Printf("Connector %d -> Preparing\n", connID)

		case "start":
			connID := 1
			if len(args) > 0 {
				connID, _ = strconv.Atoi(args[0])
			}
			s.startTransaction(connID, s.config.IdTag)
			fmt.Printf("Started charging on connector %d, TX: %d\n", connID, s.currentTxID)

		case "stop":
			if s.isCharging {
				s.stopTransaction("Local")
				fmt.Println("Stopped charging")
			} else {
				fmt.Println("Not currently charging")
			}

		case "auth":
			tag := s.config.IdTag
			if len(args) > 0 {
				tag = args[0]
			}
			s.sendAuthorize(tag)

		case "status":
			if len(args) < 1 {
				fmt.Println("Usage: status <connector> [status]")
			} else {
				connID, _ := strconv.Atoi(args[0])
				status := "Available"
				if len(args) > 1 {
					status = args[1]
				}
				s.sendStatusNotification(connID, status)
				fmt.Printf("Sent status %s for connector %d\n", status, connID)
			}

		case "meter":
			if len(args) < 1 {
				fmt.Println("Usage: meter <valueWh>")
			} else {
				value, _ := strconv.Atoi(args[0])
				if len(s.connectors) > 0 {
					s.connectors[0].MeterWh = value
				}
				s.sendMeterValues(1, value)
				fmt.Printf("Sent meter value: %d Wh\n", value)
			}

		case "heartbeat":
			s.sendHeartbeat()
			fmt.Println("Sent heartbeat")

		case "limit":
			s.mu.RLock()
			limit := s.currentLimitA
			s.mu.RUnlock()
			if limit > 0 {
				fmt.Printf("Active charging limit: %.1f A\n", limit)
			} else {
				fmt.Println("No charging limit active")
			}

		case "fault":
			connID := 1
			if len(args) > 0 {
				connID, _ = strconv.Atoi(args[0])
			}
			s.sendStatusNotification(connID, "Faulted")
			fmt.Printf("Sent fault status for connector %d\n", connID)

		case "reset":
			fmt.Println("Simulating reset...")
			s.sendBootNotification()
			fmt.Println("Reset complete")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}

		fmt.Print("> ")
	}
}
