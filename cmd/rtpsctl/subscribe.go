package main

import (
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/spf13/cobra"
)

func subscribeCmd() *cobra.Command {
	var (
		key        uint32
		peerPrefix string
		peerWriter uint32
		peers      []string
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Log the samples sent by a remote writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			writer, err := remoteGuid(peerPrefix, peerWriter, types.EntityKindUserWriterNoKey)
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

			reader, err := participant.CreateReader(key, func(change types.CacheChange) {
				cfg.Logger.Infof("received change %d from %s: %q", change.SequenceNumber, change.WriterGuid, change.Payload)
			})
			if err != nil {
				return err
			}
			if err := reader.MatchWriter(writer, locators); err != nil {
				return err
			}
			cfg.Logger.Infof("reader %s matched with %s, local prefix %s", reader.Guid(), writer, participant.GuidPrefix())

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().Uint32Var(&key, "key", 2, "entity key of the local reader")
	cmd.Flags().StringVar(&peerPrefix, "peer-prefix", "", "guid prefix of the remote participant, in hexadecimal")
	cmd.Flags().Uint32Var(&peerWriter, "peer-writer", 1, "entity key of the remote writer")
	cmd.Flags().StringSliceVar(&peers, "peer-locator", nil, "locator of the remote writer, host:port")
	_ = cmd.MarkFlagRequired("peer-prefix")
	return cmd
}
