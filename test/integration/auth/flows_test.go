// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

//go:build integration

package auth_test

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/mail"
	"github.com/medidir/medidir/internal/web"
)

var _ = Describe("Password accounts", func() {
	It("registers, verifies the address and signs in again", func() {
		b := newBrowser()
		view := b.register("Ana@Example.com")
		Expect(view.Email).To(Equal("ana@example.com"))
		Expect(view.EmailVerified).To(BeFalse())

		link, _ := lastLink(mail.KindEmailVerification)
		target := b.visit(link)
		Expect(target.Path).To(Equal("/account"))
		Expect(target.Query().Get("notice")).To(Equal("email_verified"))

		me, status := b.me()
		Expect(status).To(Equal(http.StatusOK))
		Expect(me.EmailVerified).To(BeTrue())

		Expect(b.call(http.MethodPost, "/api/auth/logout", nil, nil)).To(Equal(http.StatusNoContent))
		_, status = b.me()
		Expect(status).To(Equal(http.StatusUnauthorized))

		Expect(b.login("ana@example.com", testPassword)).To(Equal(http.StatusOK))
		Expect(b.login("ana@example.com", "wrong-password")).To(Equal(http.StatusUnauthorized))
	})

	It("rejects a second account with the same address", func() {
		newBrowser().register("ana@example.com")
		status := newBrowser().call(http.MethodPost, "/api/auth/register", map[string]string{
			"email":    "ANA@example.com",
			"password": testPassword,
		}, nil)
		Expect(status).To(Equal(http.StatusConflict))
	})

	It("resets a password and revokes every session", func() {
		first := newBrowser()
		first.register("ana@example.com")
		second := newBrowser()
		Expect(second.login("ana@example.com", testPassword)).To(Equal(http.StatusOK))

		anon := newBrowser()
		Expect(anon.call(http.MethodPost, "/api/auth/password/forgot",
			map[string]string{"email": "ana@example.com"}, nil)).To(Equal(http.StatusAccepted))
		Expect(anon.call(http.MethodPost, "/api/auth/password/forgot",
			map[string]string{"email": "nobody@example.com"}, nil)).To(Equal(http.StatusAccepted))
		_, token := lastLink(mail.KindPasswordReset)

		reset := map[string]string{"token": token, "password": "N3w-passw0rd!"}
		Expect(anon.call(http.MethodPost, "/api/auth/password/reset", reset, nil)).To(Equal(http.StatusNoContent))
		Expect(anon.call(http.MethodPost, "/api/auth/password/reset", reset, nil)).To(Equal(http.StatusBadRequest))

		for _, b := range []*browser{first, second} {
			_, status := b.me()
			Expect(status).To(Equal(http.StatusUnauthorized))
		}
		Expect(anon.login("ana@example.com", testPassword)).To(Equal(http.StatusUnauthorized))
		Expect(anon.login("ana@example.com", "N3w-passw0rd!")).To(Equal(http.StatusOK))
	})

	It("lets exactly one of many concurrent resets spend a token", func() {
		newBrowser().register("ana@example.com")
		Expect(newBrowser().call(http.MethodPost, "/api/auth/password/forgot",
			map[string]string{"email": "ana@example.com"}, nil)).To(Equal(http.StatusAccepted))
		_, token := lastLink(mail.KindPasswordReset)

		const workers = 8
		statuses := make(chan int, workers)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				<-start
				statuses <- newBrowser().call(http.MethodPost, "/api/auth/password/reset", map[string]string{
					"token":    token,
					"password": "Racer-passw0rd-" + strconv.Itoa(i),
				}, nil)
			}()
		}
		close(start)
		wg.Wait()
		close(statuses)

		counts := map[int]int{}
		for s := range statuses {
			counts[s]++
		}
		Expect(counts).To(Equal(map[int]int{
			http.StatusNoContent:  1,
			http.StatusBadRequest: workers - 1,
		}))
	})

	It("changes the address only after confirmation", func() {
		b := newBrowser()
		b.register("ana@example.com")
		newBrowser().register("taken@example.com")

		Expect(b.call(http.MethodPost, "/api/auth/email/change",
			map[string]string{"email": "taken@example.com"}, nil)).To(Equal(http.StatusConflict))
		Expect(b.call(http.MethodPost, "/api/auth/email/change",
			map[string]string{"email": "ana.new@example.com"}, nil)).To(Equal(http.StatusAccepted))

		msg, ok := env.mail.Last(mail.KindEmailChange)
		Expect(ok).To(BeTrue())
		Expect(msg.To).To(Equal("ana.new@example.com"))

		me, _ := b.me()
		Expect(me.Email).To(Equal("ana@example.com"))

		target := b.visit(msg.Link)
		Expect(target.Query().Get("notice")).To(Equal("email_changed"))
		me, _ = b.me()
		Expect(me.Email).To(Equal("ana.new@example.com"))
		Expect(me.EmailVerified).To(BeTrue())
	})

	It("lists and revokes sessions", func() {
		laptop := newBrowser()
		laptop.register("ana@example.com")
		phone := newBrowser()
		Expect(phone.login("ana@example.com", testPassword)).To(Equal(http.StatusOK))

		var sessions []web.SessionView
		Expect(laptop.call(http.MethodGet, "/api/auth/sessions", nil, &sessions)).To(Equal(http.StatusOK))
		Expect(sessions).To(HaveLen(2))

		var revoked struct {
			Revoked int64 `json:"revoked"`
		}
		Expect(laptop.call(http.MethodPost, "/api/auth/sessions/revoke-others", nil, &revoked)).To(Equal(http.StatusOK))
		Expect(revoked.Revoked).To(Equal(int64(1)))

		_, status := phone.me()
		Expect(status).To(Equal(http.StatusUnauthorized))
		_, status = laptop.me()
		Expect(status).To(Equal(http.StatusOK))
	})
})

var _ = Describe("External identities", func() {
	It("registers a Telegram user with a placeholder address and signs them in again", func() {
		b := newBrowser()
		Expect(b.telegramSignIn("5001").Path).To(Equal("/"))

		me, status := b.me()
		Expect(status).To(Equal(http.StatusOK))
		Expect(me.PrimaryProvider).To(Equal(string(auth.ProviderTelegram)))
		Expect(me.HasPassword).To(BeFalse())
		Expect(strings.HasSuffix(me.Email, "@"+auth.DefaultPlaceholderDomain)).To(BeTrue(), me.Email)

		again := newBrowser()
		again.telegramSignIn("5001")
		other, _ := again.me()
		Expect(other.ID).To(Equal(me.ID))
	})

	It("signs in through Google and returns to the stashed page", func() {
		env.google.grant("code-ana", "g-ana", "ana@gmail.example", true)
		b := newBrowser()

		consent := b.visit("/auth/google/login?next=/doctors/7")
		Expect(consent.Query().Get("redirect_uri")).To(Equal(env.server.URL + "/auth/google/callback"))
		q := consent.Query()
		target := b.visit("/auth/google/callback?state=" + q.Get("state") + "&code=code-ana")
		Expect(target.Path).To(Equal("/doctors/7"))

		me, status := b.me()
		Expect(status).To(Equal(http.StatusOK))
		Expect(me.Email).To(Equal("ana@gmail.example"))
		Expect(me.EmailVerified).To(BeTrue())
		Expect(me.PrimaryProvider).To(Equal(string(auth.ProviderGoogle)))
	})

	It("refuses a Google account whose address belongs to another user", func() {
		newBrowser().register("ana@example.com")
		env.google.grant("code-clash", "g-clash", "ana@example.com", true)

		target := newBrowser().googleSignIn("code-clash")
		Expect(target.Path).To(Equal(web.LoginPath))
		Expect(target.Query().Get("error")).To(Equal(web.RedirectEmailTaken))
	})

	It("links Telegram to a signed-in password account and unlinks it", func() {
		b := newBrowser()
		view := b.register("ana@example.com")
		b.telegramSignIn("5002")

		me, _ := b.me()
		Expect(me.ID).To(Equal(view.ID))

		var identities []web.IdentityView
		Expect(b.call(http.MethodGet, "/api/auth/identities", nil, &identities)).To(Equal(http.StatusOK))
		Expect(identities).To(HaveLen(1))
		Expect(identities[0].Provider).To(Equal(string(auth.ProviderTelegram)))

		Expect(b.call(http.MethodDelete, "/api/auth/identities/telegram", nil, nil)).To(Equal(http.StatusNoContent))
		Expect(b.call(http.MethodGet, "/api/auth/identities", nil, &identities)).To(Equal(http.StatusOK))
		Expect(identities).To(BeEmpty())
	})

	It("rejects a tampered Telegram payload", func() {
		target := newBrowser().visit("/auth/telegram/callback?id=1&auth_date=1&hash=00")
		Expect(target.Query().Get("error")).To(Equal(web.RedirectSignatureInvalid))
	})
})

var _ = Describe("Account merge", func() {
	It("folds a Telegram account into a password account", func() {
		admin := newBrowser()
		primary := admin.register("ana@example.com")
		_, err := env.pool.Exec(env.ctx, `UPDATE users SET is_admin = TRUE WHERE id = $1`, primary.ID)
		Expect(err).NotTo(HaveOccurred())

		tg := newBrowser()
		tg.telegramSignIn("7001")
		secondary, _ := tg.me()

		var delta web.AssociationDeltaView
		Expect(admin.call(http.MethodPut, "/api/admin/users/"+strconv.FormatInt(secondary.ID, 10)+"/associations/clinic",
			web.AssociationsView{IDs: []int64{10, 11}}, &delta)).To(Equal(http.StatusOK))
		Expect(admin.call(http.MethodPut, "/api/admin/users/"+strconv.FormatInt(primary.ID, 10)+"/associations/clinic",
			web.AssociationsView{IDs: []int64{11, 12}}, &delta)).To(Equal(http.StatusOK))

		var merged web.MergeView
		Expect(admin.call(http.MethodPost, "/api/admin/users/merge", map[string]int64{
			"primary_id":   primary.ID,
			"secondary_id": secondary.ID,
		}, &merged)).To(Equal(http.StatusOK))
		Expect(merged.User.ID).To(Equal(primary.ID))
		Expect(merged.IdentitiesMoved).To(Equal(int64(1)))
		Expect(merged.AssociationsAdded).To(Equal(1))

		_, status := tg.me()
		Expect(status).To(Equal(http.StatusUnauthorized), "secondary sessions are dropped")

		again := newBrowser()
		again.telegramSignIn("7001")
		me, _ := again.me()
		Expect(me.ID).To(Equal(primary.ID))

		var clinics web.AssociationsView
		Expect(admin.call(http.MethodGet, "/api/admin/users/"+strconv.FormatInt(primary.ID, 10)+"/associations/clinic",
			nil, &clinics)).To(Equal(http.StatusOK))
		Expect(clinics.IDs).To(ConsistOf(int64(10), int64(11), int64(12)))

		user, err := env.accounts.GetUser(env.ctx, secondary.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(user.ID).To(Equal(primary.ID), "old id follows the redirect")
	})

	It("refuses to merge accounts that share a provider", func() {
		a := newBrowser()
		a.telegramSignIn("8001")
		first, _ := a.me()
		b := newBrowser()
		b.telegramSignIn("8002")
		second, _ := b.me()

		_, err := env.merges.Merge(env.ctx, first.ID, second.ID)
		Expect(err).To(HaveOccurred())
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeAlreadyExists))

		for _, id := range []int64{first.ID, second.ID} {
			_, err := env.store.Users.GetByID(env.ctx, id)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("forbids non-admins", func() {
		b := newBrowser()
		view := b.register("ana@example.com")
		Expect(b.call(http.MethodPost, "/api/admin/users/merge", map[string]int64{
			"primary_id":   view.ID,
			"secondary_id": view.ID + 1,
		}, nil)).To(Equal(http.StatusForbidden))
	})
})
