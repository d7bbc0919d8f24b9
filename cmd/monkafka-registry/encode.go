package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/record"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var (
		id                     int32
		epoch                  int64
		incarnationID          string
		listeners              []string
		protocolMap            map[string]string
		features               []string
		rack                   string
		fenced                 bool
		inControlledShutdown   bool
		migratingZkBrokerEpoch int64
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a registration and print its RegisterBrokerRecord as hex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versionName, _ := cmd.Flags().GetString("metadata-version")
			version, err := metadata.ParseMetadataVersion(versionName)
			if err != nil {
				return err
			}

			builder := metadata.NewBuilder().
				SetID(id).
				SetEpoch(epoch).
				SetFenced(fenced).
				SetInControlledShutdown(inControlledShutdown)
			if incarnationID == "" {
				builder.SetIncarnationID(uuid.New())
			} else {
				parsed, err := uuid.Parse(incarnationID)
				if err != nil {
					return fmt.Errorf("invalid incarnation id: %w", err)
				}
				builder.SetIncarnationID(parsed)
			}
			protocols := make(map[string]types.SecurityProtocol, len(protocolMap))
			for name, protocol := range protocolMap {
				p, err := types.ParseSecurityProtocol(protocol)
				if err != nil {
					return err
				}
				protocols[strings.ToUpper(name)] = p
			}
			for _, l := range listeners {
				endpoint, err := types.ParseEndpoint(l, protocols)
				if err != nil {
					return err
				}
				builder.AddListener(endpoint)
			}
			for _, f := range features {
				name, versionRange, err := parseFeature(f)
				if err != nil {
					return err
				}
				builder.SetSupportedFeature(name, versionRange)
			}
			if cmd.Flags().Changed("rack") {
				builder.SetRack(rack)
			}
			if migratingZkBrokerEpoch != -1 {
				builder.SetMigratingZkBrokerEpoch(migratingZkBrokerEpoch)
			}
			registration, err := builder.Build()
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), cmd.ErrOrStderr(), registration, version)
		},
	}
	flags := cmd.Flags()
	flags.Int32Var(&id, "id", 0, "broker id")
	flags.Int64Var(&epoch, "epoch", 0, "broker epoch")
	flags.StringVar(&incarnationID, "incarnation-id", "", "incarnation id (default random)")
	flags.StringArrayVar(&listeners, "listener", nil, "listener as NAME://host:port, repeatable")
	flags.StringToStringVar(&protocolMap, "listener-security-protocol-map", nil, "security protocol of each listener, NAME=PROTOCOL")
	flags.StringArrayVar(&features, "feature", nil, "supported feature as name=min-max, repeatable")
	flags.StringVar(&rack, "rack", "", "rack (absent unless set)")
	flags.BoolVar(&fenced, "fenced", true, "whether the broker is fenced")
	flags.BoolVar(&inControlledShutdown, "in-controlled-shutdown", false, "whether the broker is in controlled shutdown")
	flags.Int64Var(&migratingZkBrokerEpoch, "migrating-zk-broker-epoch", -1, "ZK broker epoch of a migrating broker (-1 for none)")
	return cmd
}

// encode prints the registration, any state lost at version, and the hex of the framed record
func encode(out, errOut io.Writer, registration *metadata.BrokerRegistration, version metadata.MetadataVersion) error {
	warn := color.New(color.FgYellow)
	options := metadata.NewImageWriterOptions(version, func(err *metadata.UnwritableMetadataError) {
		warn.Fprintf(errOut, "WARNING: %v\n", err)
	})
	frame, err := record.Write(registration.ToRecord(options))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, registration)
	fmt.Fprintln(out, hex.EncodeToString(frame))
	return nil
}

func parseFeature(s string) (string, types.VersionRange, error) {
	name, versions, found := strings.Cut(s, "=")
	minStr, maxStr, foundRange := strings.Cut(versions, "-")
	if !found || !foundRange || name == "" {
		return "", types.VersionRange{}, fmt.Errorf("feature %q is not of the form name=min-max", s)
	}
	minVersion, err := strconv.ParseInt(minStr, 10, 16)
	if err != nil {
		return "", types.VersionRange{}, fmt.Errorf("feature %q: %w", s, err)
	}
	maxVersion, err := strconv.ParseInt(maxStr, 10, 16)
	if err != nil {
		return "", types.VersionRange{}, fmt.Errorf("feature %q: %w", s, err)
	}
	return name, types.VersionRange{Min: int16(minVersion), Max: int16(maxVersion)}, nil
}
