package main

import (
	"flag"
	"log"
	"strconv"
	"strings"

	"github.com/robotalks/audiolink/pkg/config"
	"github.com/robotalks/audiolink/pkg/telemetry"
	"github.com/robotalks/audiolink/pkg/telemetry/mqtt"
)

var (
	mqttURL = config.Default().MQTTBrokerURL
	keys    = "rx_frames,underruns,crc_errors,jitter.level,jitter.overflows"
)

func init() {
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&keys, "keys", keys, "Comma separated counters to print, empty for all.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	client, err := mqtt.NewClient(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	client.Queue.Sub(telemetry.NodeTopic("+", telemetry.MetaTopic), func(topic string, payload []byte) {
		if len(payload) == 0 {
			log.Printf("%s: gone", telemetry.NodeFromTopic(topic))
			return
		}
		log.Printf("%s: %s", topic, string(payload))
	})
	var selected []string
	if keys != "" {
		selected = strings.Split(keys, ",")
	}
	client.WatchStats("+", func(r *telemetry.Report) {
		if len(selected) == 0 {
			log.Printf("%s: %s", r.Node, r.Counters.String())
			return
		}
		var sb strings.Builder
		for _, key := range selected {
			sb.WriteString(" ")
			sb.WriteString(key)
			sb.WriteString("=")
			sb.WriteString(strconv.FormatFloat(r.Number(key), 'f', -1, 64))
		}
		log.Printf("%s:%s", r.Node, sb.String())
	})
	if token := client.Queue.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	<-(chan struct{})(nil)
}
