package circuitbreak

import "github.com/sablelabs/sable/internal/logging"

var CircuitBreakChan chan string

const (
	StoreService   = "store"
	SMSService     = "sms"
	LLMService     = "llm"
	ProfileService = "profile"
)

func Init() {
	CircuitBreakChan = make(chan string)
}

func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Fatal("sable app is not created")
	}

	CircuitBreakChan <- service
}
