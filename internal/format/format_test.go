package format

import (
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"orderbot/internal/order"
	"orderbot/pkg/tgui"
)

func sampleCreated() order.Job {
	return order.Job{
		ID:      "fixed",
		Kind:    order.KindOrderCreated,
		OrderID: 42,
		Snapshot: order.Snapshot{
			Username:       "anna",
			Total:          order.Money{Minor: 3500, Currency: "€"},
			Address:        "Main st. 1",
			Phone:          "+49 000",
			DeliveryWindow: "10:00-12:00",
			DeliveryDate:   "30.12.2025",
			Items:          []order.LineItem{{Name: "Roses", Quantity: 2}},
			OrderedAt:      time.Date(2025, 12, 1, 9, 30, 0, 0, time.UTC),
		},
		CreatedAt: time.Unix(0, 0),
	}
}

func TestRenderCreated(t *testing.T) {
	t.Parallel()
	p := Render(sampleCreated())
	if p.ParseMode != tgui.ParseModeHTML {
		t.Fatalf("ParseMode = %q", p.ParseMode)
	}
	for _, want := range []string{"#42", "35.00 €", "anna", "Main st. 1", "Roses ×2", "30.12.2025", "10:00-12:00", "01.12.2025 09:30 UTC"} {
		if !strings.Contains(p.Text, want) {
			t.Fatalf("text missing %q:\n%s", want, p.Text)
		}
	}
	if p.ImageRef != "" {
		t.Fatalf("unexpected image ref %q", p.ImageRef)
	}
}

func TestRenderStatusChanged(t *testing.T) {
	t.Parallel()
	j := order.NewStatusChanged(7, order.Snapshot{Username: "bob", Total: order.Money{Minor: 1000, Currency: "€"}}, order.StatusNew, order.StatusCompleted)
	p := Render(j)
	for _, want := range []string{"#7", "NEW", "COMPLETED", "✅ Completed", "10.00 €"} {
		if !strings.Contains(p.Text, want) {
			t.Fatalf("text missing %q:\n%s", want, p.Text)
		}
	}
}

func TestRenderTestOrder(t *testing.T) {
	t.Parallel()
	j := order.NewTestOrder("Roses in a basket", order.Money{Minor: 3500, Currency: "€"}, "30.12.2025", "media/x.jpg")
	p := Render(j)
	if !strings.Contains(p.Text, "Roses in a basket") || !strings.Contains(p.Text, "35.00 €") {
		t.Fatalf("unexpected text:\n%s", p.Text)
	}
	if p.ImageRef != "media/x.jpg" {
		t.Fatalf("ImageRef = %q", p.ImageRef)
	}
}

func TestRenderEscapesUserInput(t *testing.T) {
	t.Parallel()
	j := sampleCreated()
	j.Snapshot.Address = `<b>evil</b> & "quoted" <a href="x">`
	j.Snapshot.Username = "</code><i>"
	p := Render(j)
	if strings.Contains(p.Text, "<b>evil") || strings.Contains(p.Text, `<a href`) || strings.Contains(p.Text, "</code><i>") {
		t.Fatalf("user input not escaped:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "&lt;b&gt;evil&lt;/b&gt; &amp;") {
		t.Fatalf("escaped address missing:\n%s", p.Text)
	}
}

func TestRenderRepairsInvalidUTF8(t *testing.T) {
	t.Parallel()
	j := sampleCreated()
	j.Snapshot.Username = "al\xffice"
	j.Snapshot.Address = "Main St \xc3\x28"
	j.Snapshot.Items = []order.LineItem{{Name: "Ros\xe9s", Quantity: 1}}
	j.Snapshot.Total.Currency = "\x80"
	p := Render(j)
	if !utf8.ValidString(p.Text) {
		t.Fatalf("payload is not valid UTF-8: %q", p.Text)
	}
	for _, want := range []string{"al\uFFFDice", "Main St \uFFFD(", "Ros\uFFFDs"} {
		if !strings.Contains(p.Text, want) {
			t.Fatalf("text missing %q:\n%s", want, p.Text)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()
	j := sampleCreated()
	a, b := Render(j), Render(j)
	if a != b {
		t.Fatal("Render must be deterministic")
	}
}

func TestRenderRespectsLimits(t *testing.T) {
	t.Parallel()
	j := sampleCreated()
	j.Snapshot.Address = strings.Repeat("&<>", 2000)
	j.Snapshot.Username = strings.Repeat("🎉", 500)
	items := make([]order.LineItem, 60)
	for i := range items {
		items[i] = order.LineItem{Name: strings.Repeat("&", 200), Quantity: i}
	}
	j.Snapshot.Items = items

	p := Render(j)
	if n := tgui.UTF16Len(p.Text); n > tgui.MaxTextLen {
		t.Fatalf("text length %d exceeds %d", n, tgui.MaxTextLen)
	}
	if !strings.Contains(p.Text, "35.00 €") || !strings.Contains(p.Text, "#42") {
		t.Fatal("fixed fields must survive truncation")
	}

	j.ImageRef = "media/a.jpg"
	p = Render(j)
	if n := tgui.UTF16Len(p.Text); n > tgui.MaxCaptionLen {
		t.Fatalf("caption length %d exceeds %d", n, tgui.MaxCaptionLen)
	}
}

func randString(rng *rand.Rand, n int) string {
	const alphabet = "abc<>&\"'*_[]()~`#+-=|{}.!\\ \n🎉ж"
	rs := []rune(alphabet)
	out := make([]rune, rng.Intn(n))
	for i := range out {
		out[i] = rs[rng.Intn(len(rs))]
	}
	str := string(out)
	if len(str) > 0 && rng.Intn(4) == 0 {
		cut := rng.Intn(len(str))
		str = str[:cut] + "\xff\xc3" + str[cut:]
	}
	return str
}

func TestRenderTotalOverRandomJobs(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	kinds := []order.Kind{order.KindOrderCreated, order.KindOrderStatusChanged, order.KindTestOrder, "unknown"}
	for i := 0; i < 500; i++ {
		j := order.Job{
			Kind:    kinds[rng.Intn(len(kinds))],
			OrderID: rng.Int63() - rng.Int63(),
			Snapshot: order.Snapshot{
				Username:       randString(rng, 300),
				Total:          order.Money{Minor: rng.Int63n(1 << 40), Currency: randString(rng, 4)},
				Address:        randString(rng, 3000),
				Phone:          randString(rng, 100),
				DeliveryWindow: randString(rng, 100),
				DeliveryDate:   randString(rng, 50),
				OldStatus:      order.Status(randString(rng, 50)),
				NewStatus:      order.Status(randString(rng, 50)),
			},
		}
		if rng.Intn(2) == 0 {
			j.ImageRef = "x.jpg"
		}
		for k := rng.Intn(30); k > 0; k-- {
			j.Snapshot.Items = append(j.Snapshot.Items, order.LineItem{Name: randString(rng, 400), Quantity: rng.Intn(5)})
		}

		p := Render(j)
		limit := tgui.MaxTextLen
		if j.ImageRef != "" {
			limit = tgui.MaxCaptionLen
		}
		if tgui.UTF16Len(p.Text) > limit {
			t.Fatalf("job %d: payload over limit (%d)", i, tgui.UTF16Len(p.Text))
		}
		if !utf8.ValidString(p.Text) {
			t.Fatalf("job %d: payload is not valid UTF-8", i)
		}
		if p != Render(j) {
			t.Fatalf("job %d: non-deterministic render", i)
		}
	}
}
