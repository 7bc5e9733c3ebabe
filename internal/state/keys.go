package state

import (
	"fmt"
	"strconv"
)

// Every bot instance keeps its dialogs under its own namespace so that a user
// talking to two clones has independent dialogs.
const (
	stateKeyPattern    = "fsm:%s:state:%d"
	lockKeyPattern     = "fsm:%s:lock:%d"
	stateScanPattern   = "fsm:%s:state:*"
	anyStateScanFilter = "fsm:*:state:*"
)

// Namespace returns the namespace for the bot with the given Telegram id.
func Namespace(botID int64) string {
	return strconv.FormatInt(botID, 10)
}

func stateKey(namespace string, userID int64) string {
	return fmt.Sprintf(stateKeyPattern, namespace, userID)
}

func lockKey(namespace string, userID int64) string {
	return fmt.Sprintf(lockKeyPattern, namespace, userID)
}
