// Command sipprobe exercises a running SIP server from the terminal
// side: status handshake, optional login, then a patron lookup or a
// checkout/checkin round trip.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/yourusername/sip2-server/pkg/sip2"
)

func main() {
	addr := flag.String("addr", "localhost:6001", "SIP server address")
	uid := flag.String("uid", "", "terminal login uid (skip login when empty)")
	pwd := flag.String("pwd", "", "terminal login password")
	inst := flag.String("inst", "UWOLS", "institution id (AO)")
	patron := flag.String("patron", "", "patron barcode to look up")
	patronPwd := flag.String("patron-pwd", "", "patron password (AD)")
	item := flag.String("item", "", "item barcode to check out and back in")
	checksum := flag.Bool("checksum", false, "enable error detection trailers")
	flag.Parse()

	c, err := sip2.Dial(*addr)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Close()
	c.ErrorDetection = *checksum

	if *uid != "" {
		ok, err := c.Login(*uid, *pwd, "probe")
		if err != nil {
			log.Fatalf("login failed: %v", err)
		}
		fmt.Printf("login: ok=%v\n", ok)
	}

	st, err := c.SCStatus("2.00")
	if err != nil {
		log.Fatalf("sc status failed: %v", err)
	}
	fmt.Printf("acs: online=%v checkin=%v checkout=%v version=%s institution=%s\n",
		st.OnLine, st.CheckinOK, st.CheckoutOK, st.Version, st.Institution)

	if *patron != "" {
		status, fields, err := c.PatronStatus(*inst, *patron, *patronPwd)
		if err != nil {
			log.Fatalf("patron status failed: %v", err)
		}
		fmt.Printf("patron status: %q name=%q valid=%s\n",
			status, fields[sip2.FidPersonalName], fields[sip2.FidValidPatron])

		info, err := c.PatronInformation(*inst, *patron, *patronPwd)
		if err != nil {
			log.Fatalf("patron information failed: %v", err)
		}
		fmt.Printf("patron info: charged=%q email=%q\n",
			info[sip2.FidChargedItems], info[sip2.FidEmail])
	}

	if *item != "" {
		if *patron == "" {
			log.Fatal("-item requires -patron")
		}
		ok, fields, err := c.Checkout(*inst, *patron, *item)
		if err != nil {
			log.Fatalf("checkout failed: %v", err)
		}
		fmt.Printf("checkout: ok=%v title=%q due=%q msg=%q\n",
			ok, fields[sip2.FidTitleID], fields[sip2.FidDueDate], fields[sip2.FidScreenMsg])

		ok, fields, err = c.Checkin(*inst, *item, "probe")
		if err != nil {
			log.Fatalf("checkin failed: %v", err)
		}
		fmt.Printf("checkin: ok=%v title=%q msg=%q\n",
			ok, fields[sip2.FidTitleID], fields[sip2.FidScreenMsg])
	}
}
