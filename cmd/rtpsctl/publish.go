package main

import (
	"fmt"
	"time"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/spf13/cobra"
)

func publishCmd() *cobra.Command {
	var (
		key        uint32
		peerPrefix string
		peerReader uint32
		peers      []string
		count      int
		interval   time.Duration
		payload    string
		transient  bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish samples to a remote reader",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := remoteGuid(peerPrefix, peerReader, types.EntityKindUserReaderNoKey)
			if err != nil {
				return err
			}
			locators, err := parseLocators(peers)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			participant, release, err := start()
			if err != nil {
				return err
			}
			defer release()

			writer, err := participant.CreateWriter(key)
			if err != nil {
				return err
			}
			qos := types.ReaderQos{Reliability: cfg.Reliability}
			if transient {
				qos.Durability = types.TransientLocal
			}
			if err := writer.MatchReader(reader, locators, qos); err != nil {
				return err
			}
			cfg.Logger.Infof("writer %s matched with %s", writer.Guid(), reader)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for i := 1; count <= 0 || i <= count; i++ {
				seq, err := writer.Write([]byte(fmt.Sprintf("%s %d", payload, i)))
				if err != nil {
					return err
				}
				cfg.Logger.Infof("published change %d", seq)

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}

			// Heartbeats keep the reader recovering until interrupted.
			cfg.Logger.Info("all samples published, waiting for interrupt")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().Uint32Var(&key, "key", 1, "entity key of the local writer")
	cmd.Flags().StringVar(&peerPrefix, "peer-prefix", "", "guid prefix of the remote participant, in hexadecimal")
	cmd.Flags().Uint32Var(&peerReader, "peer-reader", 2, "entity key of the remote reader")
	cmd.Flags().StringSliceVar(&peers, "peer-locator", nil, "locator of the remote reader, host:port")
	cmd.Flags().IntVar(&count, "count", 10, "samples to publish, 0 publishes until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "interval between samples")
	cmd.Flags().StringVar(&payload, "payload", "sample", "payload prefix")
	cmd.Flags().BoolVar(&transient, "transient", false, "replay the history to the reader when matched")
	_ = cmd.MarkFlagRequired("peer-prefix")
	return cmd
}
