package main

import (
	"os"
	"os/signal"
)

// interruptChannel is used to receive signals from the operating system.
var interruptChannel chan os.Signal

// addHandlerChannel is used to add an interrupt handler to the list of
// handlers to be invoked on received interrupt signals.
var addHandlerChannel = make(chan func())

// interruptHandlersDone is closed after running all interrupt handlers.
var interruptHandlersDone = make(chan struct{})

// signals defines the signals that are handled to do a clean shutdown.
// Conditional compilation may add more for platforms that support them.
var signals = []os.Signal{os.Interrupt}

// mainInterruptHandler listens for interrupt signals and invokes all
// registered interruptCallbacks in LIFO order.
func mainInterruptHandler() {
	// interruptCallbacks is a list of callbacks to invoke when an
	// interrupt signal is received.
	var interruptCallbacks []func()

	for {
		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s).  Shutting down...", sig)

			// Run handlers in LIFO order.
			for i := range interruptCallbacks {
				idx := len(interruptCallbacks) - 1 - i
				interruptCallbacks[idx]()
			}
			close(interruptHandlersDone)
			return

		case handler := <-addHandlerChannel:
			interruptCallbacks = append(interruptCallbacks, handler)
		}
	}
}

// addInterruptHandler adds a handler to call when an interrupt signal is
// received.
func addInterruptHandler(handler func()) {
	// Create the channel and start the main interrupt handler which
	// invokes all other callbacks and exits if not already done.
	if interruptChannel == nil {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, signals...)
		go mainInterruptHandler()
	}

	addHandlerChannel <- handler
}
