// Prints the upload progress per sensor type and the serial ports found on
// this machine.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/config"
	"github.com/dotpulse/ambient_client/pkg/port_reader"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	sensorTypes, err := cfg.SensorTypes()
	if err != nil {
		logrus.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := ambientdb.Open(ctx, cfg.DatabasePath())
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	status, err := store.Status(ctx, sensorTypes)
	if err != nil {
		logrus.Fatalf("Failed to read status: %v", err)
	}

	if info, err := os.Stat(store.Path()); err == nil {
		fmt.Printf("Database %s (%s)\n\n", store.Path(), humanize.Bytes(uint64(info.Size())))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tLATEST\tVALUE\tLAST SENT\tPENDING")
	for _, st := range status {
		latest, value := "never", "-"
		if st.Latest != nil {
			latest = humanize.Time(st.Latest.Time())
			value = humanize.Ftoa(st.Latest.Value)
		}
		sent := "never"
		if st.Watermark > 0 {
			sent = humanize.Time(time.Unix(st.Watermark, 0))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			st.SensorType.RemoteName(), latest, value, sent, humanize.Comma(st.Pending))
	}
	w.Flush()

	fmt.Printf("\nConfigured device: %s @ %d baud\n", cfg.SerialDevice, cfg.Baudrate)
	ports := port_reader.ListPorts(port_reader.SerialOpener{Baudrate: cfg.Baudrate})
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	fmt.Println("Available serial ports:")
	for _, port := range ports {
		fmt.Println("  " + port)
	}
}
