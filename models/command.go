package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdSyncAll     CommandType = "sync_all"
	CmdSyncUser    CommandType = "sync_user"
	CmdSyncChannel CommandType = "sync_channel"
	CmdPause       CommandType = "pause"
	CmdResume      CommandType = "resume"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	UserID  int64  `json:"user_id,omitempty"`
	Channel string `json:"channel,omitempty"`
}
