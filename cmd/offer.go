package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jammarkeun/PawfectFinds/config"
	"github.com/Jammarkeun/PawfectFinds/core/notify"
	"github.com/Jammarkeun/PawfectFinds/core/store"
	"github.com/Jammarkeun/PawfectFinds/infra/logger"
	"github.com/Jammarkeun/PawfectFinds/infra/mqtt"
	"github.com/Jammarkeun/PawfectFinds/infra/store/postgres"
)

var offerCmd = &cobra.Command{
	Use:   "offer [order-id]",
	Short: "Broadcast a ready order to the riders room",
	Args:  cobra.ExactArgs(1),
	RunE:  offerOrder,
}

func init() {
	rootCmd.AddCommand(offerCmd)
}

func offerOrder(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("offer requires the postgres store backend")
	}

	logg := logger.New("offer-command")
	st, err := postgres.Connect(ctx, cfg.Store.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer st.Close()

	o, err := st.DispatchableOrder(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) || errors.Is(err, store.ErrOrderTaken) {
			return fmt.Errorf("order %s is not open for dispatch: %w", args[0], err)
		}
		return err
	}

	mcfg := cfg.MQTT
	mcfg.SetDefaults()
	mcfg.ClientID = mcfg.ClientID + "-offer"
	gw, err := mqtt.NewPublisher(mcfg)
	if err != nil {
		return fmt.Errorf("mqtt publisher: %w", err)
	}
	defer gw.Disconnect()

	payload := notify.DeliveryOpportunity{
		OrderID:         o.ID,
		OrderNumber:     o.Number,
		PickupAddress:   o.PickupAddress,
		DeliveryAddress: o.DeliveryAddress,
		TotalAmount:     o.TotalAmount,
		ItemsCount:      o.ItemsCount(),
	}
	if err := gw.PublishRoom(notify.RoomRiders, notify.EventNewDeliveryOpportunity, payload); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}
	logg.Infof("offered order %s to the riders room", o.ID)
	return nil
}
