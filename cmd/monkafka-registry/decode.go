package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/record"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode HEX",
		Short: "Decode a framed metadata record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decode(cmd.OutOrStdout(), args[0])
		},
	}
}

func decode(out io.Writer, s string) error {
	frame, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	m, err := record.Read(frame)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "%T v%d\n", m.Message, m.Version)
	rec, ok := m.Message.(*record.RegisterBrokerRecord)
	if !ok {
		fmt.Fprintln(out, m.Message)
		return nil
	}
	registration, err := metadata.FromRecord(rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, registration)
	return nil
}
