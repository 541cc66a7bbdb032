package internal

import (
	"github.com/robfig/cron/v3"

	ctlBot "github.com/aeonbot/aeon/internal/bot"
	"github.com/aeonbot/aeon/pkg/log"
	pkgWhatsApp "github.com/aeonbot/aeon/pkg/whatsapp"
)

func Routines(cron *cron.Cron, manager *pkgWhatsApp.Manager, bot *ctlBot.Bot) {
	log.Print(nil).Info("Running Routine Tasks")

	// Rate-limit windows, duplicate fingerprints and the seen-message set
	// all decay on this sweep.
	_, err := cron.AddFunc("0 */5 * * * *", func() {
		bot.SweepCaches()
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add cache sweep cron job")
	}

	_, err = cron.AddFunc("0 0 * * * *", func() {
		status := manager.Status()
		log.Print(nil).
			WithField("state", status.State).
			WithField("online", status.Online).
			Info("Connection health")
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add health log cron job")
	}

	cron.Start()
}
