package cwmp

import (
	"strings"
	"testing"
)

const sampleInform = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-2">
  <soap:Header>
    <cwmp:ID soap:mustUnderstand="1">inform-42</cwmp:ID>
  </soap:Header>
  <soap:Body>
    <cwmp:Inform>
      <DeviceId>
        <Manufacturer>Acme Networks</Manufacturer>
        <OUI>00D09E</OUI>
        <ProductClass>HomeGateway</ProductClass>
        <SerialNumber>SN-1001</SerialNumber>
      </DeviceId>
      <Event soap-enc:arrayType="cwmp:EventStruct[2]" xmlns:soap-enc="http://schemas.xmlsoap.org/soap/encoding/">
        <EventStruct>
          <EventCode>1 BOOT</EventCode>
          <CommandKey></CommandKey>
        </EventStruct>
        <EventStruct>
          <EventCode>4 VALUE CHANGE</EventCode>
          <CommandKey></CommandKey>
        </EventStruct>
      </Event>
      <MaxEnvelopes>1</MaxEnvelopes>
      <CurrentTime>2024-05-01T10:00:00Z</CurrentTime>
      <RetryCount>0</RetryCount>
      <ParameterList>
        <ParameterValueStruct>
          <Name>InternetGatewayDevice.DeviceInfo.SoftwareVersion</Name>
          <Value>1.2.3</Value>
        </ParameterValueStruct>
        <ParameterValueStruct>
          <Name>InternetGatewayDevice.WANDevice.1.WANConnectionDevice.1.WANIPConnection.1.ExternalIPAddress</Name>
          <Value>198.51.100.7</Value>
        </ParameterValueStruct>
      </ParameterList>
    </cwmp:Inform>
  </soap:Body>
</soap:Envelope>`

func TestDecodeInform(t *testing.T) {
	msg, err := Decode([]byte(sampleInform))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if msg.Kind != KindInform {
		t.Fatalf("expected KindInform, got %s", msg.Kind)
	}
	if msg.ID != "inform-42" {
		t.Errorf("expected ID inform-42, got %q", msg.ID)
	}
	if msg.Device.SerialNumber != "SN-1001" {
		t.Errorf("expected serial SN-1001, got %q", msg.Device.SerialNumber)
	}
	if msg.Device.Manufacturer != "Acme Networks" {
		t.Errorf("expected manufacturer Acme Networks, got %q", msg.Device.Manufacturer)
	}
	if msg.Device.OUI != "00D09E" {
		t.Errorf("expected OUI 00D09E, got %q", msg.Device.OUI)
	}
	if len(msg.Events) != 2 || msg.Events[0] != "1 BOOT" || msg.Events[1] != "4 VALUE CHANGE" {
		t.Errorf("unexpected events: %v", msg.Events)
	}
	if got := msg.Parameters["InternetGatewayDevice.DeviceInfo.SoftwareVersion"]; got != "1.2.3" {
		t.Errorf("expected SoftwareVersion 1.2.3, got %q", got)
	}
	if len(msg.Parameters) != 2 {
		t.Errorf("expected 2 parameters, got %d", len(msg.Parameters))
	}
}

func TestDecodeNamespaceVariants(t *testing.T) {
	// Same Inform but with the older cwmp-1-0 namespace and no prefixes
	body := `<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/">
  <Body>
    <Inform xmlns="urn:dslforum-org:cwmp-1-0">
      <DeviceId>
        <SerialNumber>SN-2002</SerialNumber>
      </DeviceId>
      <Event></Event>
      <MaxEnvelopes>1</MaxEnvelopes>
      <ParameterList></ParameterList>
    </Inform>
  </Body>
</Envelope>`

	msg, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Kind != KindInform {
		t.Fatalf("expected KindInform, got %s", msg.Kind)
	}
	if msg.Device.SerialNumber != "SN-2002" {
		t.Errorf("expected serial SN-2002, got %q", msg.Device.SerialNumber)
	}
	if len(msg.Parameters) != 0 {
		t.Errorf("expected no parameters, got %v", msg.Parameters)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t "} {
		msg, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%q) returned error: %v", raw, err)
		}
		if msg.Kind != KindEmpty {
			t.Errorf("Decode(%q): expected KindEmpty, got %s", raw, msg.Kind)
		}
	}
}

func TestDecodeEmptyEnvelope(t *testing.T) {
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body></soap:Body>
</soap:Envelope>`

	msg, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Kind != KindEmpty {
		t.Errorf("expected KindEmpty, got %s", msg.Kind)
	}
}

func TestDecodeGarbage(t *testing.T) {
	msg, err := Decode([]byte("this is not xml at all <<<"))
	if err == nil {
		t.Error("expected a diagnostic error for garbage input")
	}
	if msg == nil {
		t.Fatal("expected a sentinel message, got nil")
	}
	if msg.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %s", msg.Kind)
	}
}

func TestDecodeUnknownRPC(t *testing.T) {
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
  <soap:Body>
    <cwmp:TransferComplete>
      <CommandKey>dl-1</CommandKey>
    </cwmp:TransferComplete>
  </soap:Body>
</soap:Envelope>`

	msg, err := Decode([]byte(body))
	if err == nil {
		t.Error("expected a diagnostic error for an unrecognized RPC")
	}
	if msg.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %s", msg.Kind)
	}
}

func TestDecodeFault(t *testing.T) {
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
  <soap:Header><cwmp:ID soap:mustUnderstand="1">fault-7</cwmp:ID></soap:Header>
  <soap:Body>
    <soap:Fault>
      <faultcode>Client</faultcode>
      <faultstring>CWMP fault</faultstring>
      <detail>
        <cwmp:Fault>
          <FaultCode>9005</FaultCode>
          <FaultString>Invalid parameter name</FaultString>
        </cwmp:Fault>
      </detail>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

	msg, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Kind != KindFault {
		t.Fatalf("expected KindFault, got %s", msg.Kind)
	}
	if msg.Fault == nil {
		t.Fatal("expected fault detail")
	}
	if msg.Fault.Code != 9005 {
		t.Errorf("expected fault code 9005, got %d", msg.Fault.Code)
	}
	if msg.Fault.Detail != "Invalid parameter name" {
		t.Errorf("expected fault detail, got %q", msg.Fault.Detail)
	}
}

func TestDecodeGetParameterValuesResponse(t *testing.T) {
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:cwmp="urn:dslforum-org:cwmp-1-0">
  <soap:Header><cwmp:ID soap:mustUnderstand="1">gpv-1</cwmp:ID></soap:Header>
  <soap:Body>
    <cwmp:GetParameterValuesResponse>
      <ParameterList>
        <ParameterValueStruct>
          <Name>InternetGatewayDevice.ManagementServer.PeriodicInformInterval</Name>
          <Value>300</Value>
        </ParameterValueStruct>
      </ParameterList>
    </cwmp:GetParameterValuesResponse>
  </soap:Body>
</soap:Envelope>`

	msg, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if msg.Kind != KindGetParameterValuesResponse {
		t.Fatalf("expected KindGetParameterValuesResponse, got %s", msg.Kind)
	}
	if !msg.Kind.IsResponse() {
		t.Error("GetParameterValuesResponse should classify as a response")
	}
	if got := msg.Parameters["InternetGatewayDevice.ManagementServer.PeriodicInformInterval"]; got != "300" {
		t.Errorf("expected parameter value 300, got %q", got)
	}
}

func TestEncodeInformResponse(t *testing.T) {
	out, err := Encode(&Message{Kind: KindInformResponse, ID: "inform-42"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	s := string(out)
	for _, want := range []string{
		`xmlns:cwmp="urn:dslforum-org:cwmp-1-0"`,
		`<cwmp:ID soap-env:mustUnderstand="1">inform-42</cwmp:ID>`,
		"<cwmp:InformResponse>",
		"<MaxEnvelopes>1</MaxEnvelopes>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded InformResponse missing %q:\n%s", want, s)
		}
	}
}

func TestEncodeGeneratesIDWhenMissing(t *testing.T) {
	out, err := Encode(&Message{Kind: KindReboot, CommandKey: "task-1"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(out), `soap-env:mustUnderstand="1"`) {
		t.Errorf("expected a generated correlation header:\n%s", out)
	}
	if !strings.Contains(string(out), "<CommandKey>task-1</CommandKey>") {
		t.Errorf("expected the command key in the Reboot body:\n%s", out)
	}
}

func TestEncodeSetParameterValues(t *testing.T) {
	out, err := Encode(&Message{
		Kind:       KindSetParameterValues,
		ID:         "spv-1",
		CommandKey: "task-9",
		Parameters: map[string]string{
			"InternetGatewayDevice.ManagementServer.PeriodicInformInterval": "600",
			"InternetGatewayDevice.DeviceInfo.ProvisioningCode":             "flow-a",
		},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	s := string(out)
	for _, want := range []string{
		`soap-enc:arrayType="cwmp:ParameterValueStruct[2]"`,
		"<Name>InternetGatewayDevice.ManagementServer.PeriodicInformInterval</Name>",
		`<Value xsi:type="xsd:string">600</Value>`,
		"<ParameterKey>task-9</ParameterKey>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded SetParameterValues missing %q:\n%s", want, s)
		}
	}

	// Output order is deterministic: names are sorted
	first := strings.Index(s, "ProvisioningCode")
	second := strings.Index(s, "PeriodicInformInterval")
	if first == -1 || second == -1 || first > second {
		t.Errorf("expected sorted parameter order:\n%s", s)
	}
}

func TestEncodeGetParameterValues(t *testing.T) {
	out, err := Encode(&Message{
		Kind: KindGetParameterValues,
		Parameters: map[string]string{
			"InternetGatewayDevice.DeviceInfo.UpTime": "",
		},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	s := string(out)
	if !strings.Contains(s, `soap-enc:arrayType="xsd:string[1]"`) {
		t.Errorf("expected arrayType attribute:\n%s", s)
	}
	if !strings.Contains(s, "<string>InternetGatewayDevice.DeviceInfo.UpTime</string>") {
		t.Errorf("expected parameter name element:\n%s", s)
	}
}

func TestEncodeEmptyEnvelope(t *testing.T) {
	out, err := Encode(&Message{Kind: KindEmpty})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	s := string(out)
	if strings.Contains(s, "soap-env:Header") {
		t.Errorf("empty envelope should have no header:\n%s", s)
	}
	if !strings.Contains(s, "<soap-env:Body>") {
		t.Errorf("expected a bare body:\n%s", s)
	}
}

func TestEncodeRejectsInboundKinds(t *testing.T) {
	for _, kind := range []Kind{KindInform, KindFault, KindGetParameterValuesResponse, KindUnknown} {
		if _, err := Encode(&Message{Kind: kind}); err == nil {
			t.Errorf("Encode(%s) should fail", kind)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	out, err := Encode(&Message{
		Kind:       KindSetParameterValues,
		ID:         "rt-1",
		CommandKey: "task-rt",
		Parameters: map[string]string{"Device.WiFi.SSID.1.SSID": "home-net"},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// The decoder only models device-to-ACS RPCs, so our own output reads
	// back as an unknown RPC, but the correlation header must survive.
	msg, _ := Decode(out)
	if msg.ID != "rt-1" {
		t.Errorf("expected echoed ID rt-1, got %q", msg.ID)
	}
}
