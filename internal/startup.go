package internal

import (
	"context"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/log"
	pkgWhatsApp "github.com/aeonbot/aeon/pkg/whatsapp"
)

func Startup(manager *pkgWhatsApp.Manager) {
	log.Print(nil).Info("Running Startup Tasks")

	autostart, err := env.GetEnvBool("BOT_AUTOSTART")
	if err != nil || !autostart {
		log.Print(nil).Info("Autostart disabled; waiting for a session control request")
		return
	}

	// Connect in the background so HTTP serving is not held up by a slow
	// or pending login.
	go func() {
		status, err := manager.Start(context.Background())
		if err != nil {
			log.Print(nil).Error("Autostart failed: " + err.Error())
			return
		}
		log.Print(nil).
			WithField("state", status.State).
			Info("Autostart session request accepted")
	}()
}
