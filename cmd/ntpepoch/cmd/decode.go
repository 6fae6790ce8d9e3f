/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/ntpclient/ntp/protocol"
)

func init() {
	RootCmd.AddCommand(decodeCmd)
	RootCmd.AddCommand(requestCmd)
}

// parseHex accepts hex with optional whitespace and colon separators
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	return hex.DecodeString(s)
}

func decodeRun(w io.Writer, input string) error {
	b, err := parseHex(input)
	if err != nil {
		return fmt.Errorf("parsing packet: %w", err)
	}
	epoch, err := protocol.DecodeEpoch(b)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "epoch: %d (%s)\n", epoch, time.Unix(int64(epoch), 0).UTC().Format(time.RFC3339))
	if len(b) >= protocol.PacketSizeBytes {
		packet, err := protocol.BytesToPacket(b[:protocol.PacketSizeBytes])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "transmit: %s\n", protocol.Unix(packet.TxTimeSec, packet.TxTimeFrac).UTC().Format(time.RFC3339Nano))
		log.Debugf("packet: %s", spew.Sdump(packet))
	}
	return nil
}

var decodeCmd = &cobra.Command{
	Use:   "decode <hex packet>",
	Short: "Decode epoch from NTP reply given as hex",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := decodeRun(os.Stdout, args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Print request packet sent by ntpepoch as hex",
	Run: func(c *cobra.Command, args []string) {
		ConfigureVerbosity()
		r := protocol.NewRequest()
		fmt.Print(hex.Dump(r.Bytes()))
	},
}
