package wire

import (
	"encoding/json"
	"fmt"

	"github.com/collab-daemon/collabd/internal/fsreg"
)

// IpcClientMsg is the tagged union of everything an attached IPC client
// (an editor front-end, or the `collabd` CLI) can send the daemon.
type IpcClientMsg struct {
	Type string `json:"type"`

	Path       fsreg.RelPath `json:"path,omitempty"`
	Desc       string        `json:"desc,omitempty"`
	BufferDiff *BufferDiff   `json:"buffer_diff,omitempty"`
}

const (
	IpcMsgShutdownRequest  = "ShutdownRequest"
	IpcMsgInfoRequest      = "InfoRequest"
	IpcMsgAttachRequest    = "AttachRequest"
	IpcMsgBufferDiff       = "BufferDiff"
	IpcMsgLocalDisconnect  = "LocalDisconnect"
)

func IpcShutdownRequest() IpcClientMsg { return IpcClientMsg{Type: IpcMsgShutdownRequest} }
func IpcInfoRequest() IpcClientMsg     { return IpcClientMsg{Type: IpcMsgInfoRequest} }

func IpcAttachRequest(path fsreg.RelPath, desc string) IpcClientMsg {
	return IpcClientMsg{Type: IpcMsgAttachRequest, Path: path, Desc: desc}
}

func IpcBufferDiff(bd BufferDiff) IpcClientMsg {
	return IpcClientMsg{Type: IpcMsgBufferDiff, BufferDiff: &bd}
}

var IpcLocalDisconnect = IpcClientMsg{Type: IpcMsgLocalDisconnect}

func EncodeIpcClientMsg(msg IpcClientMsg) ([]byte, error) {
	return json.Marshal(msg)
}

func DecodeIpcClientMsg(data []byte) (IpcClientMsg, error) {
	var msg IpcClientMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return IpcClientMsg{}, Wrap(KindDecode, "decode IpcClientMsg", err)
	}
	switch msg.Type {
	case IpcMsgShutdownRequest, IpcMsgInfoRequest, IpcMsgAttachRequest, IpcMsgBufferDiff, IpcMsgLocalDisconnect:
		return msg, nil
	default:
		return IpcClientMsg{}, Wrap(KindDecode, "decode IpcClientMsg", fmt.Errorf("unknown type %q", msg.Type))
	}
}

// IpcClientResponse is the tagged union of everything the daemon can send
// back to an attached IPC client.
type IpcClientResponse struct {
	Type string `json:"type"`

	Info       *IpcClientInfo `json:"info,omitempty"`
	BufferDiff *BufferDiff    `json:"buffer_diff,omitempty"`
}

const (
	IpcRespInfo             = "Info"
	IpcRespBufferDiff       = "BufferDiff"
	IpcRespLocalDisconnect  = "LocalDisconnect"
	IpcRespRemoteDisconnect = "RemoteDisconnect"
)

func IpcRespondInfo(info IpcClientInfo) IpcClientResponse {
	return IpcClientResponse{Type: IpcRespInfo, Info: &info}
}

func IpcRespondBufferDiff(bd BufferDiff) IpcClientResponse {
	return IpcClientResponse{Type: IpcRespBufferDiff, BufferDiff: &bd}
}

var (
	IpcRespLocalDisconnectMsg  = IpcClientResponse{Type: IpcRespLocalDisconnect}
	IpcRespRemoteDisconnectMsg = IpcClientResponse{Type: IpcRespRemoteDisconnect}
)

func EncodeIpcClientResponse(msg IpcClientResponse) ([]byte, error) {
	return json.Marshal(msg)
}

func DecodeIpcClientResponse(data []byte) (IpcClientResponse, error) {
	var msg IpcClientResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return IpcClientResponse{}, Wrap(KindDecode, "decode IpcClientResponse", err)
	}
	switch msg.Type {
	case IpcRespInfo, IpcRespBufferDiff, IpcRespLocalDisconnect, IpcRespRemoteDisconnect:
		return msg, nil
	default:
		return IpcClientResponse{}, Wrap(KindDecode, "decode IpcClientResponse", fmt.Errorf("unknown type %q", msg.Type))
	}
}
