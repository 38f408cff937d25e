// Package cwmp implements the TR-069 wire codec and the per-visit session
// engine of the ACS.
package cwmp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// SOAP/CWMP namespaces. Decoding is namespace-agnostic to cope with the
// spread of cwmp-1-0 through cwmp-1-2 (and broken) firmware; encoding always
// emits cwmp-1-0, which every generation understands.
const (
	soapEnvNS = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncNS = "http://schemas.xmlsoap.org/soap/encoding/"
	xsdNS     = "http://www.w3.org/2001/XMLSchema"
	xsiNS     = "http://www.w3.org/2001/XMLSchema-instance"
	cwmpNS    = "urn:dslforum-org:cwmp-1-0"
)

// Kind identifies the RPC carried by a Message
type Kind int

const (
	// Inbound (device to ACS)
	KindEmpty Kind = iota // empty body: the device has nothing more to send
	KindUnknown
	KindInform
	KindSetParameterValuesResponse
	KindGetParameterValuesResponse
	KindRebootResponse
	KindFactoryResetResponse
	KindGetRPCMethodsResponse
	KindFault

	// Outbound (ACS to device)
	KindInformResponse
	KindSetParameterValues
	KindGetParameterValues
	KindReboot
	KindFactoryReset
)

// String names the kind for logs and metrics
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "Empty"
	case KindUnknown:
		return "Unknown"
	case KindInform:
		return "Inform"
	case KindSetParameterValuesResponse:
		return "SetParameterValuesResponse"
	case KindGetParameterValuesResponse:
		return "GetParameterValuesResponse"
	case KindRebootResponse:
		return "RebootResponse"
	case KindFactoryResetResponse:
		return "FactoryResetResponse"
	case KindGetRPCMethodsResponse:
		return "GetRPCMethodsResponse"
	case KindFault:
		return "Fault"
	case KindInformResponse:
		return "InformResponse"
	case KindSetParameterValues:
		return "SetParameterValues"
	case KindGetParameterValues:
		return "GetParameterValues"
	case KindReboot:
		return "Reboot"
	case KindFactoryReset:
		return "FactoryReset"
	}
	return "Invalid"
}

// IsResponse reports whether the kind is a device reply to an ACS-issued RPC
func (k Kind) IsResponse() bool {
	switch k {
	case KindSetParameterValuesResponse, KindGetParameterValuesResponse,
		KindRebootResponse, KindFactoryResetResponse, KindGetRPCMethodsResponse,
		KindFault:
		return true
	}
	return false
}

// DeviceID is the identity block of an Inform
type DeviceID struct {
	Manufacturer string
	OUI          string
	ProductClass string
	SerialNumber string
}

// Fault carries the CWMP fault detail from a device fault response
type Fault struct {
	Code   int
	Detail string
}

// Message is the internal model of one CWMP envelope, inbound or outbound.
// Parameter values are plain strings throughout; type coercion is the
// caller's concern.
type Message struct {
	Kind       Kind
	ID         string // cwmp:ID correlation header
	Device     DeviceID
	Events     []string
	Parameters map[string]string // Inform/GPV-response values, SPV payload, or GPV names (empty values)
	CommandKey string
	Fault      *Fault
}

// --- tolerant decode ------------------------------------------------------

// The decode structs deliberately omit namespaces: encoding/xml then matches
// on local names only, which is exactly the tolerance the device population
// requires (cwmp-1-0 vs 1-2, prefix soup, missing mustUnderstand).

type wireEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  struct {
		ID string `xml:"ID"`
	} `xml:"Header"`
	Body wireBody `xml:"Body"`
}

type wireBody struct {
	Inform                     *wireInform        `xml:"Inform"`
	SetParameterValuesResponse *wireSPVResponse   `xml:"SetParameterValuesResponse"`
	GetParameterValuesResponse *wireGPVResponse   `xml:"GetParameterValuesResponse"`
	RebootResponse             *wireNamedElement  `xml:"RebootResponse"`
	FactoryResetResponse       *wireNamedElement  `xml:"FactoryResetResponse"`
	GetRPCMethodsResponse      *wireNamedElement  `xml:"GetRPCMethodsResponse"`
	Fault                      *wireFault         `xml:"Fault"`
	Other                      []wireNamedElement `xml:",any"`
}

type wireNamedElement struct {
	XMLName xml.Name
}

type wireInform struct {
	DeviceID struct {
		Manufacturer string `xml:"Manufacturer"`
		OUI          string `xml:"OUI"`
		ProductClass string `xml:"ProductClass"`
		SerialNumber string `xml:"SerialNumber"`
	} `xml:"DeviceId"`
	Events []struct {
		EventCode  string `xml:"EventCode"`
		CommandKey string `xml:"CommandKey"`
	} `xml:"Event>EventStruct"`
	MaxEnvelopes  int                  `xml:"MaxEnvelopes"`
	CurrentTime   string               `xml:"CurrentTime"`
	RetryCount    int                  `xml:"RetryCount"`
	ParameterList []wireParameterValue `xml:"ParameterList>ParameterValueStruct"`
}

type wireParameterValue struct {
	Name  string `xml:"Name"`
	Value string `xml:"Value"`
}

type wireSPVResponse struct {
	Status int `xml:"Status"`
}

type wireGPVResponse struct {
	ParameterList []wireParameterValue `xml:"ParameterList>ParameterValueStruct"`
}

type wireFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		Fault struct {
			FaultCode   int    `xml:"FaultCode"`
			FaultString string `xml:"FaultString"`
		} `xml:"Fault"`
	} `xml:"detail"`
}

// Decode translates a raw SOAP envelope into a Message. It never fails the
// exchange: malformed, truncated or unrecognized input yields a usable
// KindEmpty/KindUnknown sentinel, with the error carried alongside for
// diagnostics only.
func Decode(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Message{Kind: KindEmpty}, nil
	}

	var env wireEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return &Message{Kind: KindUnknown}, fmt.Errorf("malformed envelope: %w", err)
	}

	msg := &Message{ID: env.Header.ID}
	body := env.Body

	switch {
	case body.Inform != nil:
		msg.Kind = KindInform
		msg.Device = DeviceID{
			Manufacturer: body.Inform.DeviceID.Manufacturer,
			OUI:          body.Inform.DeviceID.OUI,
			ProductClass: body.Inform.DeviceID.ProductClass,
			SerialNumber: body.Inform.DeviceID.SerialNumber,
		}
		for _, e := range body.Inform.Events {
			if e.EventCode != "" {
				msg.Events = append(msg.Events, e.EventCode)
			}
		}
		msg.Parameters = make(map[string]string, len(body.Inform.ParameterList))
		for _, p := range body.Inform.ParameterList {
			if p.Name != "" {
				msg.Parameters[p.Name] = p.Value
			}
		}

	case body.SetParameterValuesResponse != nil:
		msg.Kind = KindSetParameterValuesResponse

	case body.GetParameterValuesResponse != nil:
		msg.Kind = KindGetParameterValuesResponse
		msg.Parameters = make(map[string]string, len(body.GetParameterValuesResponse.ParameterList))
		for _, p := range body.GetParameterValuesResponse.ParameterList {
			if p.Name != "" {
				msg.Parameters[p.Name] = p.Value
			}
		}

	case body.RebootResponse != nil:
		msg.Kind = KindRebootResponse

	case body.FactoryResetResponse != nil:
		msg.Kind = KindFactoryResetResponse

	case body.GetRPCMethodsResponse != nil:
		msg.Kind = KindGetRPCMethodsResponse

	case body.Fault != nil:
		msg.Kind = KindFault
		msg.Fault = &Fault{
			Code:   body.Fault.Detail.Fault.FaultCode,
			Detail: body.Fault.Detail.Fault.FaultString,
		}
		if msg.Fault.Detail == "" {
			msg.Fault.Detail = body.Fault.FaultString
		}

	case len(body.Other) > 0:
		msg.Kind = KindUnknown
		return msg, fmt.Errorf("unrecognized RPC element: %s", body.Other[0].XMLName.Local)

	default:
		msg.Kind = KindEmpty
	}

	return msg, nil
}

// --- encode ---------------------------------------------------------------

// The encode structs spell prefixes out as literal element names. The Go xml
// encoder's own namespace handling produces envelopes some firmware chokes
// on, so the output mirrors the hand-built envelopes of field-proven ACS
// implementations instead.

type envEnvelope struct {
	XMLName xml.Name   `xml:"soap-env:Envelope"`
	SoapEnv string     `xml:"xmlns:soap-env,attr"`
	SoapEnc string     `xml:"xmlns:soap-enc,attr"`
	Xsd     string     `xml:"xmlns:xsd,attr"`
	Xsi     string     `xml:"xmlns:xsi,attr"`
	Cwmp    string     `xml:"xmlns:cwmp,attr"`
	Header  *envHeader `xml:"soap-env:Header,omitempty"`
	Body    envBody    `xml:"soap-env:Body"`
}

type envHeader struct {
	ID *envHeaderID `xml:"cwmp:ID,omitempty"`
}

type envHeaderID struct {
	MustUnderstand string `xml:"soap-env:mustUnderstand,attr"`
	Value          string `xml:",chardata"`
}

type envBody struct {
	InformResponse     *envInformResponse `xml:"cwmp:InformResponse,omitempty"`
	SetParameterValues *envSPV            `xml:"cwmp:SetParameterValues,omitempty"`
	GetParameterValues *envGPV            `xml:"cwmp:GetParameterValues,omitempty"`
	Reboot             *envReboot         `xml:"cwmp:Reboot,omitempty"`
	FactoryReset       *envFactoryReset   `xml:"cwmp:FactoryReset,omitempty"`
}

type envInformResponse struct {
	MaxEnvelopes int `xml:"MaxEnvelopes"`
}

type envSPV struct {
	ParameterList envParameterList `xml:"ParameterList"`
	ParameterKey  string           `xml:"ParameterKey"`
}

type envParameterList struct {
	ArrayType string              `xml:"soap-enc:arrayType,attr"`
	Params    []envParameterValue `xml:"ParameterValueStruct"`
}

type envParameterValue struct {
	Name  string   `xml:"Name"`
	Value envValue `xml:"Value"`
}

type envValue struct {
	Type  string `xml:"xsi:type,attr"`
	Value string `xml:",chardata"`
}

type envGPV struct {
	ParameterNames envParameterNames `xml:"ParameterNames"`
}

type envParameterNames struct {
	ArrayType string   `xml:"soap-enc:arrayType,attr"`
	Names     []string `xml:"string"`
}

type envReboot struct {
	CommandKey string `xml:"CommandKey"`
}

type envFactoryReset struct{}

// Encode renders an outbound Message as a complete SOAP envelope. The
// correlation ID from the message is echoed in the header; a blank ID gets a
// fresh one. An empty-kind message encodes as a bare body, which is how the
// ACS tells the device the session is over.
func Encode(msg *Message) ([]byte, error) {
	env := &envEnvelope{
		SoapEnv: soapEnvNS,
		SoapEnc: soapEncNS,
		Xsd:     xsdNS,
		Xsi:     xsiNS,
		Cwmp:    cwmpNS,
	}

	if msg.Kind != KindEmpty {
		id := msg.ID
		if id == "" {
			id = uuid.New().String()
		}
		env.Header = &envHeader{ID: &envHeaderID{MustUnderstand: "1", Value: id}}
	}

	switch msg.Kind {
	case KindEmpty:
		// bare body

	case KindInformResponse:
		env.Body.InformResponse = &envInformResponse{MaxEnvelopes: 1}

	case KindSetParameterValues:
		params := make([]envParameterValue, 0, len(msg.Parameters))
		for _, name := range sortedKeys(msg.Parameters) {
			params = append(params, envParameterValue{
				Name:  name,
				Value: envValue{Type: "xsd:string", Value: msg.Parameters[name]},
			})
		}
		env.Body.SetParameterValues = &envSPV{
			ParameterList: envParameterList{
				ArrayType: fmt.Sprintf("cwmp:ParameterValueStruct[%d]", len(params)),
				Params:    params,
			},
			ParameterKey: msg.CommandKey,
		}

	case KindGetParameterValues:
		names := sortedKeys(msg.Parameters)
		env.Body.GetParameterValues = &envGPV{
			ParameterNames: envParameterNames{
				ArrayType: fmt.Sprintf("xsd:string[%d]", len(names)),
				Names:     names,
			},
		}

	case KindReboot:
		env.Body.Reboot = &envReboot{CommandKey: msg.CommandKey}

	case KindFactoryReset:
		env.Body.FactoryReset = &envFactoryReset{}

	default:
		return nil, fmt.Errorf("cannot encode inbound message kind %s", msg.Kind)
	}

	data, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("XML encode error: %w", err)
	}

	return append([]byte(xml.Header), data...), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
