package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Engine.IO v4 包类型。
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 包类型。
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
)

const noAckID = -1

// handshake 是 Engine.IO open 包的负载。
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// packet 是解码后的一帧数据。非 message 帧只有 eio 字段有意义。
type packet struct {
	eio       byte
	sio       byte
	namespace string
	id        int
	data      json.RawMessage
}

func decodePacket(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, fmt.Errorf("empty frame")
	}
	p := packet{eio: frame[0], id: noAckID, namespace: "/"}
	rest := frame[1:]
	if p.eio != eioMessage {
		p.data = rest
		return p, nil
	}
	if len(rest) == 0 {
		return packet{}, fmt.Errorf("message frame without socket.io type")
	}
	p.sio = rest[0]
	rest = rest[1:]

	// 二进制附件不在本协议使用范围内。
	if p.sio == '5' || p.sio == '6' {
		return packet{}, fmt.Errorf("binary packets are not supported")
	}

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.namespace = string(rest)
			return p, nil
		}
		p.namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(string(rest[:digits]))
		if err != nil {
			return packet{}, fmt.Errorf("invalid ack id: %w", err)
		}
		p.id = id
		rest = rest[digits:]
	}
	if len(rest) > 0 {
		p.data = json.RawMessage(rest)
	}
	return p, nil
}

// eventArgs 拆分 EVENT 包的负载：第一个元素是事件名，其余为参数。
func eventArgs(data json.RawMessage) (string, []json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return "", nil, fmt.Errorf("decode event payload: %w", err)
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("event payload is empty")
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	return name, items[1:], nil
}

// ackArgs 解析 ACK 包的参数数组。
func ackArgs(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode ack payload: %w", err)
	}
	return items, nil
}

func encodeConnect(auth any) ([]byte, error) {
	frame := []byte{eioMessage, sioConnect}
	if auth == nil {
		return frame, nil
	}
	payload, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	return append(frame, payload...), nil
}

func encodeEvent(id int, name string, args ...any) ([]byte, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, name)
	items = append(items, args...)
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	frame := []byte{eioMessage, sioEvent}
	if id != noAckID {
		frame = strconv.AppendInt(frame, int64(id), 10)
	}
	return append(frame, payload...), nil
}

func encodeAck(id int, args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	frame := []byte{eioMessage, sioAck}
	frame = strconv.AppendInt(frame, int64(id), 10)
	return append(frame, payload...), nil
}

// connectErrorMessage 提取 CONNECT_ERROR 包中的错误描述。
func connectErrorMessage(data json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil && text != "" {
		return text
	}
	if len(data) > 0 {
		return string(data)
	}
	return "connection refused"
}
